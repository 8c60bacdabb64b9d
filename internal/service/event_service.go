package service

import (
	"context"

	"github.com/anatoly-dev/game-realtime/pkg/kafka"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"go.uber.org/zap"
)

const (
	SourceGeneration  = "generation"
	SourceInteractive = "interactive"
	SourceAchievement = "achievement"
)

type EventSource interface {
	RegisterHandler(source string, handler kafka.EventHandler)
}

type Publisher interface {
	Publish(channel models.ChannelID, eventName string, payload interface{}) int
}

// EventService relays collaborator events from Kafka to channel subscribers.
type EventService struct {
	publisher Publisher
	logger    *zap.Logger
}

func NewEventService(source EventSource, publisher Publisher, logger *zap.Logger) *EventService {
	service := &EventService{
		publisher: publisher,
		logger:    logger,
	}

	for _, name := range []string{SourceGeneration, SourceInteractive, SourceAchievement} {
		source.RegisterHandler(name, service.forward)
	}

	return service
}

func (s *EventService) forward(ctx context.Context, event *models.DomainEvent) error {
	channel, ok := event.Channel()
	if !ok {
		s.logger.Warn("Dropping event without game or user",
			zap.String("eventID", event.ID),
			zap.String("event", event.EventName()))
		return nil
	}

	delivered := s.publisher.Publish(channel, event.EventName(), event.Payload)

	s.logger.Debug("Relayed domain event",
		zap.String("eventID", event.ID),
		zap.String("event", event.EventName()),
		zap.String("channel", channel.String()),
		zap.Int("delivered", delivered))
	return nil
}

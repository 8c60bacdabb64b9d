package service

import (
	"context"
	"testing"

	"github.com/anatoly-dev/game-realtime/pkg/kafka"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSource struct {
	handlers map[string]kafka.EventHandler
}

func (s *fakeSource) RegisterHandler(source string, handler kafka.EventHandler) {
	s.handlers[source] = handler
}

type published struct {
	channel models.ChannelID
	event   string
	payload interface{}
}

type fakePublisher struct {
	calls []published
}

func (p *fakePublisher) Publish(channel models.ChannelID, eventName string, payload interface{}) int {
	p.calls = append(p.calls, published{channel: channel, event: eventName, payload: payload})
	return 1
}

func TestEventServiceRegistersSources(t *testing.T) {
	source := &fakeSource{handlers: make(map[string]kafka.EventHandler)}
	NewEventService(source, &fakePublisher{}, zaptest.NewLogger(t))

	require.Len(t, source.handlers, 3)
	for _, name := range []string{SourceGeneration, SourceInteractive, SourceAchievement} {
		require.Contains(t, source.handlers, name)
	}
}

func TestEventServiceForwardsToChannel(t *testing.T) {
	source := &fakeSource{handlers: make(map[string]kafka.EventHandler)}
	publisher := &fakePublisher{}
	NewEventService(source, publisher, zaptest.NewLogger(t))
	ctx := context.Background()

	payload := json.RawMessage(`{"percent":50}`)
	require.NoError(t, source.handlers[SourceGeneration](ctx, &models.DomainEvent{
		ID: "e1", Source: SourceGeneration, Type: "progress", GameID: "g1", UserID: "u1", Payload: payload,
	}))
	require.NoError(t, source.handlers[SourceAchievement](ctx, &models.DomainEvent{
		ID: "e2", Source: SourceAchievement, Type: "unlocked", UserID: "u1",
	}))
	require.NoError(t, source.handlers[SourceInteractive](ctx, &models.DomainEvent{
		ID: "e3", Source: SourceInteractive, Type: "hint",
	}))

	require.Len(t, publisher.calls, 2)
	require.Equal(t, models.GameChannel("g1"), publisher.calls[0].channel)
	require.Equal(t, "generation:progress", publisher.calls[0].event)
	require.Equal(t, payload, publisher.calls[0].payload)
	require.Equal(t, models.UserChannel("u1"), publisher.calls[1].channel)
	require.Equal(t, "achievement:unlocked", publisher.calls[1].event)
}

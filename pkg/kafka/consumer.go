package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/config"
	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

// EventHandler receives one decoded domain event. Handlers are keyed by the
// event source (generation, interactive, achievement).
type EventHandler func(ctx context.Context, event *models.DomainEvent) error

type Consumer struct {
	consumer *kafka.Consumer
	handlers map[string]EventHandler
	logger   *zap.Logger
	topics   []string
	mutex    sync.RWMutex
	metrics  *metrics.KafkaMetrics
}

func NewConsumer(cfg *config.KafkaConfig, logger *zap.Logger) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"group.id":           cfg.GroupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		handlers: make(map[string]EventHandler),
		logger:   logger,
		topics:   cfg.Topics,
	}, nil
}

func (c *Consumer) SetMetrics(metrics *metrics.KafkaMetrics) {
	c.metrics = metrics
}

func (c *Consumer) RegisterHandler(source string, handler EventHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handlers[source] = handler
}

// Run polls until ctx is cancelled, then closes the consumer.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.consumer.SubscribeTopics(c.topics, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topics: %w", err)
	}

	c.logger.Info("Kafka consumer started", zap.Strings("topics", c.topics))

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.logger.Error("Error closing Kafka consumer", zap.Error(err))
		}
		c.logger.Info("Kafka consumer stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ev := c.consumer.Poll(100)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := c.handleMessage(ctx, e); err != nil {
				c.logger.Error("Failed to handle message", zap.Error(err))
			}
			c.recordLag(e)

		case kafka.Error:
			c.logger.Error("Kafka error", zap.Error(e), zap.String("code", e.Code().String()))

			if c.metrics != nil {
				c.metrics.KafkaErrors.WithLabelValues(e.Code().String()).Inc()
			}
		default:
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	topic := topicOf(msg)

	c.logger.Debug("Received message from Kafka",
		zap.String("topic", topic),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)),
		zap.ByteString("key", msg.Key),
		zap.Int("valueLen", len(msg.Value)))

	if c.metrics != nil {
		c.metrics.MessagesProcessed.WithLabelValues(topic).Inc()
	}

	event, err := models.DecodeDomainEvent(msg.Value)
	if err != nil {
		c.logger.Error("Failed to unmarshal event", zap.Error(err), zap.ByteString("payload", msg.Value))

		if c.metrics != nil {
			c.metrics.DeserializeErrors.Inc()
		}
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	source := event.Source
	if source == "" {
		source = topic
	}

	c.mutex.RLock()
	handler, ok := c.handlers[source]
	c.mutex.RUnlock()

	if !ok {
		c.logger.Warn("No handler registered for event source", zap.String("source", source))
		return nil
	}

	if err := handler(ctx, event); err != nil {
		return fmt.Errorf("handle %s event %s: %w", source, event.Type, err)
	}
	return nil
}

func (c *Consumer) recordLag(msg *kafka.Message) {
	if c.metrics == nil || msg.TopicPartition.Topic == nil {
		return
	}
	topic := *msg.TopicPartition.Topic

	_, high, err := c.consumer.QueryWatermarkOffsets(topic, msg.TopicPartition.Partition, 5000)
	if err != nil {
		return
	}
	lag := high - int64(msg.TopicPartition.Offset)
	c.metrics.ConsumerLag.WithLabelValues(topic, fmt.Sprintf("%d", msg.TopicPartition.Partition)).Set(float64(lag))
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}

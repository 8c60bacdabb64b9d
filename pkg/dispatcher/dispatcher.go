package dispatcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"go.uber.org/zap"
)

// Dispatcher is the only write path collaborators use to reach clients.
// Every delivery goes through the recipient's own outbound queue, so one slow
// client never holds up the rest of a fan-out.
type Dispatcher struct {
	registry *registry.Registry
	serverID string
	logger   *zap.Logger
	metrics  *metrics.DispatchMetrics
}

func NewDispatcher(reg *registry.Registry, serverID string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		serverID: serverID,
		logger:   logger,
	}
}

func (d *Dispatcher) SetMetrics(metrics *metrics.DispatchMetrics) {
	d.metrics = metrics
}

func (d *Dispatcher) ServerID() string {
	return d.serverID
}

// Publish delivers eventName to every subscriber of channel and returns how
// many connections accepted it. No subscribers is not an error.
func (d *Dispatcher) Publish(channel models.ChannelID, eventName string, payload interface{}) int {
	startTime := time.Now()

	ids := d.registry.Resolve(channel)
	if d.metrics != nil {
		d.metrics.Published.WithLabelValues(string(channel.Kind())).Inc()
		d.metrics.FanoutSize.Observe(float64(len(ids)))
	}
	if len(ids) == 0 {
		d.logger.Debug("No subscribers for channel",
			zap.String("channel", channel.String()),
			zap.String("event", eventName))
		return 0
	}

	frame, err := models.EncodeEnvelope(eventName, payload, d.serverID, d.registry.Now())
	if err != nil {
		d.logger.Error("Failed to encode event",
			zap.Error(err),
			zap.String("channel", channel.String()),
			zap.String("event", eventName))
		return 0
	}

	delivered := d.fanout(ids, frame, eventName)

	if d.metrics != nil {
		d.metrics.PublishDuration.Observe(time.Since(startTime).Seconds())
	}

	d.logger.Debug("Published event",
		zap.String("channel", channel.String()),
		zap.String("event", eventName),
		zap.Int("subscribers", len(ids)),
		zap.Int("delivered", delivered))

	return delivered
}

// Broadcast delivers eventName to every live connection.
func (d *Dispatcher) Broadcast(eventName string, payload interface{}) int {
	ids := d.registry.IDs()
	if len(ids) == 0 {
		return 0
	}

	frame, err := models.EncodeEnvelope(eventName, payload, d.serverID, d.registry.Now())
	if err != nil {
		d.logger.Error("Failed to encode broadcast", zap.Error(err), zap.String("event", eventName))
		return 0
	}
	return d.fanout(ids, frame, eventName)
}

// SendTo replies to a single connection.
func (d *Dispatcher) SendTo(connID string, eventName string, payload interface{}) error {
	conn, err := d.registry.Get(connID)
	if err != nil {
		return err
	}

	frame, err := models.EncodeEnvelope(eventName, payload, d.serverID, d.registry.Now())
	if err != nil {
		return err
	}

	if err := d.deliver(conn, frame); err != nil {
		d.recordFailure(err)
		return fmt.Errorf("failed to send %s to %s: %w", eventName, connID, err)
	}
	if d.metrics != nil {
		d.metrics.Deliveries.Inc()
	}
	return nil
}

func (d *Dispatcher) fanout(ids []string, frame []byte, eventName string) int {
	var delivered int
	for _, id := range ids {
		conn, err := d.registry.Get(id)
		if err != nil {
			// removed between Resolve and Get
			continue
		}
		if err := d.deliver(conn, frame); err != nil {
			d.recordFailure(err)
			d.logger.Warn("Failed to deliver event",
				zap.Error(err),
				zap.String("connectionID", id),
				zap.String("event", eventName))
			continue
		}
		delivered++
	}

	if d.metrics != nil {
		d.metrics.Deliveries.Add(float64(delivered))
	}
	return delivered
}

func (d *Dispatcher) deliver(conn models.Connection, frame []byte) (err error) {
	if conn.Transport == nil {
		return fmt.Errorf("%w: no transport for %s", models.ErrTransport, conn.ID)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", models.ErrTransport, r)
		}
	}()
	return conn.Transport.Send(frame)
}

func (d *Dispatcher) recordFailure(err error) {
	if d.metrics == nil {
		return
	}
	reason := "transport"
	switch {
	case errors.Is(err, models.ErrSlowConsumer):
		reason = "slow_consumer"
	case errors.Is(err, models.ErrClosed):
		reason = "closed"
	}
	d.metrics.DeliveryErrors.WithLabelValues(reason).Inc()
}

package heartbeat

import (
	"context"
	"errors"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"go.uber.org/zap"
)

const (
	degradedLatency  = time.Second
	degradedLossRate = 0.05
)

type Config struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxMissed   int
	Adaptive    bool
	MaxInterval time.Duration
}

// Escalator performs the transport side of the liveness ladder.
type Escalator interface {
	SendPing(connID string) error
	SendWarning(connID string, warning models.HeartbeatWarning) error
	// CloseIfSilent must not close a connection whose last pong is after cutoff.
	CloseIfSilent(connID string, reason string, cutoff time.Time) bool
}

type Action int

const (
	ActionNone Action = iota
	ActionPing
	ActionWarn
	ActionForceClose
)

// ScanResult counts what one Scan did.
type ScanResult struct {
	Checked int
	Pinged  int
	Warned  int
	Closed  int
}

type Monitor struct {
	cfg       Config
	registry  *registry.Registry
	escalator Escalator
	logger    *zap.Logger
	metrics   *metrics.HeartbeatMetrics
}

func NewMonitor(cfg Config, reg *registry.Registry, escalator Escalator, logger *zap.Logger) *Monitor {
	if cfg.MaxMissed <= 0 {
		cfg.MaxMissed = 3
	}
	return &Monitor{
		cfg:       cfg,
		registry:  reg,
		escalator: escalator,
		logger:    logger,
	}
}

func (m *Monitor) SetMetrics(metrics *metrics.HeartbeatMetrics) {
	m.metrics = metrics
}

// EffectiveInterval stretches base for degraded links:
// base * (1 + 0.5*[latency > 1s] + 0.3*[loss > 5%]), capped at maxInterval.
func EffectiveInterval(base time.Duration, latency time.Duration, lossRate float64, maxInterval time.Duration) time.Duration {
	factor := 1.0
	if latency > degradedLatency {
		factor += 0.5
	}
	if lossRate > degradedLossRate {
		factor += 0.3
	}
	interval := time.Duration(float64(base) * factor)
	if maxInterval > 0 && interval > maxInterval {
		interval = maxInterval
	}
	return interval
}

func (m *Monitor) intervalFor(conn models.Connection) time.Duration {
	if !m.cfg.Adaptive {
		return m.cfg.Interval
	}
	return EffectiveInterval(m.cfg.Interval, conn.Latency, conn.LossRate, m.cfg.MaxInterval)
}

// Decide maps one connection's liveness timestamps to the next step of the ladder.
func (m *Monitor) Decide(conn models.Connection, now time.Time) Action {
	interval := m.intervalFor(conn)
	silence := now.Sub(conn.LastPongReceivedAt)

	switch {
	case silence >= interval*time.Duration(m.cfg.MaxMissed+2):
		return ActionForceClose
	case silence >= interval*time.Duration(m.cfg.MaxMissed):
		return ActionWarn
	case now.Sub(conn.LastPingSentAt) >= m.cfg.Timeout:
		return ActionPing
	default:
		return ActionNone
	}
}

// Scan runs one pass over the registry. Failures on one connection never stop
// the pass.
func (m *Monitor) Scan(now time.Time) ScanResult {
	var res ScanResult

	m.registry.ForEach(func(conn models.Connection) bool {
		res.Checked++

		switch m.Decide(conn, now) {
		case ActionForceClose:
			cutoff := now.Add(-m.intervalFor(conn) * time.Duration(m.cfg.MaxMissed+2))
			if m.escalator.CloseIfSilent(conn.ID, "heartbeat timeout", cutoff) {
				res.Closed++
				m.logger.Info("Closed unresponsive connection",
					zap.String("connectionID", conn.ID),
					zap.String("userID", conn.UserID),
					zap.Duration("silence", now.Sub(conn.LastPongReceivedAt)),
					zap.Error(models.ErrLivenessFailure))
				if m.metrics != nil {
					m.metrics.ForcedCloses.Inc()
				}
			}

		case ActionWarn:
			threshold := m.intervalFor(conn) * time.Duration(m.cfg.MaxMissed)
			warning := models.HeartbeatWarning{
				LastPong:  conn.LastPongReceivedAt.UnixMilli(),
				Threshold: models.Millis(threshold),
			}
			if err := m.escalator.SendWarning(conn.ID, warning); err != nil {
				m.logger.Debug("Failed to deliver heartbeat warning",
					zap.String("connectionID", conn.ID),
					zap.Error(err))
			}
			missed, err := m.registry.RecordMissedHeartbeat(conn.ID)
			if err != nil {
				return true
			}
			res.Warned++
			m.logger.Warn("Connection missed heartbeats",
				zap.String("connectionID", conn.ID),
				zap.Int("missed", missed))
			if m.metrics != nil {
				m.metrics.Warnings.Inc()
			}

		case ActionPing:
			if err := m.escalator.SendPing(conn.ID); err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					m.logger.Debug("Failed to send ping",
						zap.String("connectionID", conn.ID),
						zap.Error(err))
				}
				return true
			}
			if err := m.registry.UpdateLiveness(conn.ID, registry.LivenessPingSent); err == nil {
				res.Pinged++
				if m.metrics != nil {
					m.metrics.PingsSent.Inc()
				}
			}
		}
		return true
	})

	return res
}

// Run scans every Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("Starting heartbeat monitor",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Int("maxMissed", m.cfg.MaxMissed),
		zap.Bool("adaptive", m.cfg.Adaptive))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Heartbeat monitor stopped")
			return nil
		case <-ticker.C:
			start := time.Now()
			res := m.Scan(m.registry.Now())
			if m.metrics != nil {
				m.metrics.ScanDuration.Observe(time.Since(start).Seconds())
			}
			m.logger.Debug("Heartbeat scan finished",
				zap.Int("checked", res.Checked),
				zap.Int("pinged", res.Pinged),
				zap.Int("warned", res.Warned),
				zap.Int("closed", res.Closed))
		}
	}
}

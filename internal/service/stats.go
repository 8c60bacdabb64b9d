package service

import (
	"context"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"go.uber.org/zap"
)

type StatsStore interface {
	SaveStats(ctx context.Context, instanceID string, stats models.AggregateStats, ttl time.Duration) error
}

// StatsReporter periodically recomputes aggregate stats into gauges and, when
// a store is set, into the shared snapshot.
type StatsReporter struct {
	registry   *registry.Registry
	instanceID string
	interval   time.Duration
	ttl        time.Duration
	metrics    *metrics.RegistryMetrics
	store      StatsStore
	logger     *zap.Logger
}

func NewStatsReporter(reg *registry.Registry, instanceID string, interval, ttl time.Duration, logger *zap.Logger) *StatsReporter {
	return &StatsReporter{
		registry:   reg,
		instanceID: instanceID,
		interval:   interval,
		ttl:        ttl,
		logger:     logger,
	}
}

func (r *StatsReporter) SetMetrics(metrics *metrics.RegistryMetrics) {
	r.metrics = metrics
}

func (r *StatsReporter) SetStore(store StatsStore) {
	r.store = store
}

func (r *StatsReporter) Report(ctx context.Context) models.AggregateStats {
	stats := r.registry.Stats()

	if r.metrics != nil {
		r.metrics.Observe(stats)
	}

	if r.store != nil {
		if err := r.store.SaveStats(ctx, r.instanceID, stats, r.ttl); err != nil {
			r.logger.Warn("Failed to save stats snapshot", zap.Error(err))
		}
	}

	return stats
}

func (r *StatsReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := r.Report(ctx)
			r.logger.Debug("Connection stats",
				zap.Int("connections", stats.Connections),
				zap.Int("users", stats.Users),
				zap.Int("channels", stats.Channels))
		}
	}
}

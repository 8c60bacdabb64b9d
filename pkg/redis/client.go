package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/config"
	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const (
	statsKeyPrefix = "rt:stats:"
	rateKeyPrefix  = "rt:rate:"
)

// Store keeps per-instance snapshots in Redis so operators can see the whole
// fleet. Connection state itself never leaves the process.
type Store struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.RedisMetrics
}

func NewStore(cfg *config.RedisConfig, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewStoreWithClient(client, logger), nil
}

func NewStoreWithClient(client *redis.Client, logger *zap.Logger) *Store {
	return &Store{
		client: client,
		logger: logger,
	}
}

func (s *Store) SetMetrics(metrics *metrics.RedisMetrics) {
	s.metrics = metrics
}

func (s *Store) SaveStats(ctx context.Context, instanceID string, stats models.AggregateStats, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	start := time.Now()
	err = s.client.Set(ctx, statsKeyPrefix+instanceID, data, ttl).Err()
	s.observe("save_stats", start, err)
	if err != nil {
		return fmt.Errorf("failed to save stats snapshot: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotWrites.Inc()
	}
	return nil
}

func (s *Store) LoadStats(ctx context.Context, instanceID string) (models.AggregateStats, error) {
	var stats models.AggregateStats

	start := time.Now()
	data, err := s.client.Get(ctx, statsKeyPrefix+instanceID).Bytes()
	if errors.Is(err, redis.Nil) {
		return stats, fmt.Errorf("stats for %s: %w", instanceID, models.ErrNotFound)
	}
	s.observe("load_stats", start, err)
	if err != nil {
		return stats, fmt.Errorf("failed to load stats snapshot: %w", err)
	}

	if err := json.Unmarshal(data, &stats); err != nil {
		return stats, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	return stats, nil
}

// ClusterStats returns the live snapshot of every instance, keyed by instance id.
func (s *Store) ClusterStats(ctx context.Context) (map[string]models.AggregateStats, error) {
	start := time.Now()

	var keys []string
	iter := s.client.Scan(ctx, 0, statsKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.observe("cluster_stats", start, err)
		return nil, fmt.Errorf("failed to scan stats keys: %w", err)
	}

	result := make(map[string]models.AggregateStats, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	s.observe("cluster_stats", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats snapshots: %w", err)
	}

	for i, val := range values {
		strVal, ok := val.(string)
		if !ok {
			continue
		}

		var stats models.AggregateStats
		if err := json.Unmarshal([]byte(strVal), &stats); err != nil {
			s.logger.Warn("failed to unmarshal stats snapshot",
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		result[keys[i][len(statsKeyPrefix):]] = stats
	}

	return result, nil
}

func (s *Store) Close() error {
	s.logger.Info("Closing Redis store")

	if err := s.client.Close(); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
		return err
	}
	return nil
}

func (s *Store) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RedisOperationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.RedisOperationErrors.WithLabelValues(operation).Inc()
	}
}

// Package reconnect computes the backoff guidance the server hands to clients.
// The server never reconnects anything itself.
package reconnect

import (
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
)

type Policy struct {
	MaxRetries   int
	BaseInterval time.Duration
	MaxInterval  time.Duration
	Exponential  bool
}

// NextDelay returns min(base*2^(retryCount-1), max) in exponential mode and
// base otherwise. Counts below one are treated as the first attempt.
func (p Policy) NextDelay(retryCount int) time.Duration {
	if !p.Exponential {
		return p.BaseInterval
	}
	if retryCount < 1 {
		retryCount = 1
	}

	delay := p.BaseInterval
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if p.MaxInterval > 0 && delay >= p.MaxInterval {
			return p.MaxInterval
		}
		// overflow guard for absurd retry counts
		if delay <= 0 {
			return p.MaxInterval
		}
	}
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		return p.MaxInterval
	}
	return delay
}

func (p Policy) Acknowledge(retryCount int) models.ReconnectAck {
	return models.ReconnectAck{
		RetryCount:     retryCount,
		MaxRetries:     p.MaxRetries,
		NextRetryDelay: models.Millis(p.NextDelay(retryCount)),
	}
}

func (p Policy) Exhausted(retryCount int) bool {
	return p.MaxRetries > 0 && retryCount > p.MaxRetries
}

func (p Policy) ClientConfig() models.ReconnectConfig {
	return models.ReconnectConfig{
		MaxRetries:         p.MaxRetries,
		BaseInterval:       models.Millis(p.BaseInterval),
		MaxInterval:        models.Millis(p.MaxInterval),
		ExponentialBackoff: p.Exponential,
	}
}

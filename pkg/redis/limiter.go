package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/ratelimit"
	"go.uber.org/zap"
)

// WindowLimiter is a fixed-window limiter whose counters live in Redis, so the
// limit holds across every instance sharing the store. If Redis is unreachable
// requests are admitted.
type WindowLimiter struct {
	store       *Store
	name        string
	maxRequests int
	window      time.Duration
	timeout     time.Duration
	clock       func() time.Time
	onReject    func(name string)
}

type LimiterOption func(*WindowLimiter)

func WithClock(clock func() time.Time) LimiterOption {
	return func(l *WindowLimiter) {
		l.clock = clock
	}
}

func WithRejectHook(fn func(name string)) LimiterOption {
	return func(l *WindowLimiter) {
		l.onReject = fn
	}
}

func WithTimeout(timeout time.Duration) LimiterOption {
	return func(l *WindowLimiter) {
		l.timeout = timeout
	}
}

func NewWindowLimiter(store *Store, name string, maxRequests int, window time.Duration, opts ...LimiterOption) *WindowLimiter {
	l := &WindowLimiter{
		store:       store,
		name:        name,
		maxRequests: maxRequests,
		window:      window,
		timeout:     100 * time.Millisecond,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *WindowLimiter) Check(subject string) ratelimit.Result {
	now := l.clock()
	index := now.UnixNano() / int64(l.window)
	res := ratelimit.Result{
		Allowed: true,
		Limit:   l.maxRequests,
		Window:  l.window,
		ResetAt: time.Unix(0, (index+1)*int64(l.window)),
	}

	key := fmt.Sprintf("%s%s:%s:%d", rateKeyPrefix, l.name, subject, index)

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	start := time.Now()
	pipe := l.store.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, l.window)
	_, err := pipe.Exec(ctx)
	l.store.observe("rate_limit", start, err)
	if err != nil {
		l.store.logger.Warn("Rate limit check failed, admitting request",
			zap.String("limiter", l.name),
			zap.String("subject", subject),
			zap.Error(err))
		return res
	}

	res.Count = int(incr.Val())
	if res.Count > l.maxRequests {
		res.Allowed = false
		if l.onReject != nil {
			l.onReject(l.name)
		}
		l.store.logger.Debug("Request rejected by distributed limiter",
			zap.String("limiter", l.name),
			zap.String("subject", subject),
			zap.Int("count", res.Count),
			zap.Error(models.ErrRateLimited))
	}
	return res
}

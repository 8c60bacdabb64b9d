package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const numShards = 32

// Result describes the window a Check landed in.
type Result struct {
	Allowed bool
	Count   int
	Limit   int
	Window  time.Duration
	ResetAt time.Time
}

type Limiter interface {
	Check(subject string) Result
}

type windowKey struct {
	subject string
	index   int64
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[windowKey]*rateWindow
}

// FixedWindow counts requests per (subject, floor(now/window)). Bursts of up to
// twice the limit are possible across a window boundary.
type FixedWindow struct {
	name        string
	maxRequests int
	window      time.Duration
	shards      [numShards]*shard
	clock       func() time.Time
	logger      *zap.Logger
	onReject    func(name string)
}

type Option func(*FixedWindow)

func WithClock(clock func() time.Time) Option {
	return func(l *FixedWindow) {
		l.clock = clock
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *FixedWindow) {
		l.logger = logger
	}
}

// WithRejectHook is called for every refused request, typically to bump a metric.
func WithRejectHook(fn func(name string)) Option {
	return func(l *FixedWindow) {
		l.onReject = fn
	}
}

func NewFixedWindow(name string, maxRequests int, window time.Duration, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		name:        name,
		maxRequests: maxRequests,
		window:      window,
		clock:       time.Now,
		logger:      zap.NewNop(),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[windowKey]*rateWindow)}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FixedWindow) Name() string {
	return l.name
}

func (l *FixedWindow) Allow(subject string) bool {
	return l.Check(subject).Allowed
}

func (l *FixedWindow) Check(subject string) Result {
	now := l.clock()
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}
	index := now.UnixMilli() / windowMs
	key := windowKey{subject: subject, index: index}

	s := l.shardFor(subject)
	s.mu.Lock()
	w, ok := s.windows[key]
	if !ok {
		w = &rateWindow{resetAt: time.UnixMilli((index + 1) * windowMs)}
		s.windows[key] = w
	}
	w.count++
	count := w.count
	resetAt := w.resetAt
	s.mu.Unlock()

	res := Result{
		Allowed: count <= l.maxRequests,
		Count:   count,
		Limit:   l.maxRequests,
		Window:  l.window,
		ResetAt: resetAt,
	}
	if !res.Allowed && l.onReject != nil {
		l.onReject(l.name)
	}
	return res
}

// Sweep drops windows whose reset time has passed and returns how many it removed.
func (l *FixedWindow) Sweep(now time.Time) int {
	var purged int
	for _, s := range l.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if w.resetAt.Before(now) {
				delete(s.windows, key)
				purged++
			}
		}
		s.mu.Unlock()
	}
	return purged
}

func (l *FixedWindow) Len() int {
	var n int
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps expired windows every interval until ctx is done.
func (l *FixedWindow) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if purged := l.Sweep(l.clock()); purged > 0 {
				l.logger.Debug("Purged expired rate windows",
					zap.String("limiter", l.name),
					zap.Int("purged", purged))
			}
		}
	}
}

func (l *FixedWindow) shardFor(subject string) *shard {
	h := fnv.New32a()
	h.Write([]byte(subject))
	return l.shards[h.Sum32()%numShards]
}

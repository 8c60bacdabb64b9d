package redis

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowLimiterAdmitsUpToMax(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)

	var rejected []string
	limiter := NewWindowLimiter(store, "connections", 10, time.Minute,
		WithClock(func() time.Time { return now }),
		WithRejectHook(func(name string) { rejected = append(rejected, name) }),
		WithTimeout(time.Second))

	for i := 1; i <= 10; i++ {
		res := limiter.Check("10.0.0.1")
		require.True(t, res.Allowed, "request %d", i)
		require.Equal(t, i, res.Count)
	}

	res := limiter.Check("10.0.0.1")
	require.False(t, res.Allowed)
	require.Equal(t, 11, res.Count)
	require.Equal(t, 10, res.Limit)
	require.Equal(t, time.Minute, res.Window)
	require.True(t, res.ResetAt.After(now))
	require.Equal(t, []string{"connections"}, rejected)

	require.True(t, limiter.Check("10.0.0.2").Allowed, "subjects are independent")

	now = res.ResetAt
	res = limiter.Check("10.0.0.1")
	require.True(t, res.Allowed)
	require.Equal(t, 1, res.Count)
}

func TestWindowLimiterSharedAcrossInstances(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	clock := WithClock(func() time.Time { return now })

	a := NewWindowLimiter(store, "commands", 5, time.Minute, clock, WithTimeout(time.Second))
	b := NewWindowLimiter(store, "commands", 5, time.Minute, clock, WithTimeout(time.Second))

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(l *WindowLimiter) {
			defer wg.Done()
			if l.Check("conn-1").Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}([]*WindowLimiter{a, b}[i%2])
	}
	wg.Wait()

	require.Equal(t, 5, allowed)
}

func TestWindowLimiterFailsOpen(t *testing.T) {
	store, mr := newTestStore(t)
	limiter := NewWindowLimiter(store, "connections", 1, time.Minute, WithTimeout(50*time.Millisecond))

	mr.Close()
	for i := 0; i < 3; i++ {
		require.True(t, limiter.Check("10.0.0.1").Allowed)
	}
}

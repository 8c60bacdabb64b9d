package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextDelayExponential(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseInterval: time.Second, MaxInterval: 30 * time.Second, Exponential: true}

	require.Equal(t, time.Second, p.NextDelay(0))
	require.Equal(t, time.Second, p.NextDelay(1))
	require.Equal(t, 2*time.Second, p.NextDelay(2))
	require.Equal(t, 4*time.Second, p.NextDelay(3))
	require.Equal(t, 16*time.Second, p.NextDelay(5))
	require.Equal(t, 30*time.Second, p.NextDelay(6))
	require.Equal(t, 30*time.Second, p.NextDelay(1000))
}

func TestNextDelayMonotonic(t *testing.T) {
	p := Policy{BaseInterval: 750 * time.Millisecond, MaxInterval: 45 * time.Second, Exponential: true}
	for n := 0; n < 200; n++ {
		cur, next := p.NextDelay(n), p.NextDelay(n+1)
		require.LessOrEqual(t, cur, next, "n=%d", n)
		require.LessOrEqual(t, next, p.MaxInterval, "n=%d", n)
	}
}

func TestNextDelayFixed(t *testing.T) {
	p := Policy{BaseInterval: 2 * time.Second, MaxInterval: 30 * time.Second}
	for _, n := range []int{0, 1, 2, 10, 100} {
		require.Equal(t, 2*time.Second, p.NextDelay(n))
	}
}

func TestAcknowledge(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseInterval: time.Second, MaxInterval: 30 * time.Second, Exponential: true}
	ack := p.Acknowledge(3)
	require.Equal(t, 3, ack.RetryCount)
	require.Equal(t, 5, ack.MaxRetries)
	require.Equal(t, int64(4000), ack.NextRetryDelay)

	require.False(t, p.Exhausted(5))
	require.True(t, p.Exhausted(6))
	require.False(t, Policy{}.Exhausted(100))
}

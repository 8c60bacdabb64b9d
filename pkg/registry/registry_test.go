package registry

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, reg *Registry, conn models.Connection) string {
	t.Helper()
	id, err := reg.Add(conn)
	require.NoError(t, err)
	return id
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sortedIDs(ids []string) []string {
	sort.Strings(ids)
	return ids
}

// requireConsistent checks that k is in Resolve(c) iff c is in Get(k).Channels.
func requireConsistent(t *testing.T, r *Registry) {
	t.Helper()
	for _, ch := range r.Channels() {
		for _, id := range r.Resolve(ch) {
			conn, err := r.Get(id)
			require.NoError(t, err)
			require.True(t, conn.InChannel(ch), "connection %s missing channel %s", id, ch)
		}
	}
	r.ForEach(func(conn models.Connection) bool {
		for _, ch := range conn.Channels {
			require.Contains(t, r.Resolve(ch), conn.ID)
		}
		return true
	})
}

func TestRegistryAddGetRemove(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))

	id := mustAdd(t, r, models.Connection{Metadata: models.Metadata{RemoteAddr: "10.0.0.1"}})
	require.NotEmpty(t, id)

	conn, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, models.StatusConnected, conn.Status)
	require.Equal(t, clock.Now(), conn.ConnectedAt)
	require.Equal(t, clock.Now(), conn.LastPongReceivedAt)
	require.Equal(t, "10.0.0.1", conn.Metadata.RemoteAddr)
	require.Equal(t, 1, r.Len())

	removed, ok := r.Remove(id)
	require.True(t, ok)
	require.Equal(t, models.StatusDisconnected, removed.Status)

	_, err = r.Get(id)
	require.True(t, errors.Is(err, models.ErrNotFound))

	_, ok = r.Remove(id)
	require.False(t, ok)
	_, ok = r.Remove("missing")
	require.False(t, ok)
}

func TestRegistryAddRefusesDuplicateID(t *testing.T) {
	r := New()
	id := mustAdd(t, r, models.Connection{ID: "c1", Metadata: models.Metadata{RemoteAddr: "10.0.0.1"}})
	ch := models.GameChannel("g1")
	r.Subscribe(id, ch)

	_, err := r.Add(models.Connection{ID: "c1", Metadata: models.Metadata{RemoteAddr: "10.0.0.2"}})
	require.True(t, errors.Is(err, models.ErrAlreadyExists))
	requireConsistent(t, r)

	conn, err := r.Get("c1")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", conn.Metadata.RemoteAddr)
	require.Equal(t, []models.ChannelID{ch}, conn.Channels)

	_, ok := r.Remove("c1")
	require.True(t, ok)
	require.Empty(t, r.Resolve(ch))
	require.Empty(t, r.Channels())
	require.Zero(t, r.Len())
}

func TestRegistryRemoveIfSilentSince(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	id := mustAdd(t, r, models.Connection{ID: "c1"})
	r.Subscribe(id, models.GameChannel("g1"))

	snapshot, err := r.Get(id)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, r.UpdateLiveness(id, LivenessPongReceived))

	_, ok := r.RemoveIfSilentSince(id, snapshot.LastPongReceivedAt)
	require.False(t, ok, "pong after the snapshot keeps the connection")
	require.Equal(t, 1, r.Len())

	current, err := r.Get(id)
	require.NoError(t, err)
	removed, ok := r.RemoveIfSilentSince(id, current.LastPongReceivedAt)
	require.True(t, ok)
	require.Equal(t, models.StatusDisconnected, removed.Status)
	require.Empty(t, r.Channels())

	_, ok = r.RemoveIfSilentSince(id, current.LastPongReceivedAt)
	require.False(t, ok)
}

func TestRegistrySubscribeIdempotent(t *testing.T) {
	r := New()
	id := mustAdd(t, r, models.Connection{ID: "c1"})
	ch := models.GameChannel("g1")

	require.Equal(t, 1, r.Subscribe(id, ch))
	require.Equal(t, 1, r.Subscribe(id, ch))
	require.Equal(t, []string{"c1"}, r.Resolve(ch))

	require.Equal(t, 0, r.Unsubscribe(id, models.GameChannel("other")))
	require.Equal(t, 0, r.Subscribe("missing", models.GameChannel("other")))
	require.Empty(t, r.Resolve(models.GameChannel("other")))

	require.Equal(t, 0, r.Unsubscribe(id, ch))
	require.Equal(t, 0, r.Unsubscribe(id, ch))
	require.Empty(t, r.Channels(), "empty channel must be deleted")
}

func TestRegistryRemoveLeavesAllChannels(t *testing.T) {
	r := New()
	a := mustAdd(t, r, models.Connection{ID: "a"})
	b := mustAdd(t, r, models.Connection{ID: "b"})

	r.Subscribe(a, models.GameChannel("g1"))
	r.Subscribe(a, models.GameChannel("g2"))
	r.Subscribe(b, models.GameChannel("g1"))
	require.NoError(t, r.BindUser(a, "u1"))

	requireConsistent(t, r)

	_, ok := r.Remove(a)
	require.True(t, ok)
	require.Equal(t, []string{"b"}, r.Resolve(models.GameChannel("g1")))
	require.Empty(t, r.Resolve(models.GameChannel("g2")))
	require.Empty(t, r.Resolve(models.UserChannel("u1")))
	require.ElementsMatch(t, []models.ChannelID{models.GameChannel("g1")}, r.Channels())
	requireConsistent(t, r)
}

func TestRegistryRemoveConnectionKeepsEntry(t *testing.T) {
	r := New()
	id := mustAdd(t, r, models.Connection{ID: "a"})
	r.Subscribe(id, models.GameChannel("g1"))

	r.RemoveConnection(id)
	conn, err := r.Get(id)
	require.NoError(t, err)
	require.Empty(t, conn.Channels)
	require.Empty(t, r.Channels())
}

func TestRegistryBindUserSwitchesUserChannel(t *testing.T) {
	r := New()
	id := mustAdd(t, r, models.Connection{ID: "a"})

	require.NoError(t, r.BindUser(id, "u1"))
	require.Equal(t, []string{"a"}, r.Resolve(models.UserChannel("u1")))

	require.NoError(t, r.BindUser(id, "u2"))
	require.Empty(t, r.Resolve(models.UserChannel("u1")))
	require.Equal(t, []string{"a"}, r.Resolve(models.UserChannel("u2")))

	conn, err := r.Get(id)
	require.NoError(t, err)
	require.Equal(t, "u2", conn.UserID)

	require.ErrorIs(t, r.BindUser("missing", "u1"), models.ErrNotFound)
}

func TestRegistryLiveness(t *testing.T) {
	clock := newFakeClock()
	r := New(WithClock(clock.Now))
	id := mustAdd(t, r, models.Connection{ID: "a"})

	clock.Advance(10 * time.Second)
	require.NoError(t, r.UpdateLiveness(id, LivenessPingSent))
	n, err := r.RecordMissedHeartbeat(id)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, r.MarkReconnecting(id, 2))
	conn, _ := r.Get(id)
	require.Equal(t, models.StatusReconnecting, conn.Status)
	require.Equal(t, 2, conn.RetryCount)
	require.Equal(t, clock.Now(), conn.LastPingSentAt)

	clock.Advance(time.Second)
	require.NoError(t, r.UpdateLiveness(id, LivenessPongReceived))
	conn, _ = r.Get(id)
	require.Equal(t, clock.Now(), conn.LastPongReceivedAt)
	require.Equal(t, 0, conn.MissedHeartbeats)
	require.Equal(t, models.StatusConnected, conn.Status)
	require.False(t, conn.LastPongReceivedAt.After(clock.Now()))

	require.ErrorIs(t, r.UpdateLiveness("missing", LivenessPongReceived), models.ErrNotFound)
}

func TestRegistryReconnectPreservesSubscriptions(t *testing.T) {
	r := New()
	id := mustAdd(t, r, models.Connection{ID: "a"})
	r.Subscribe(id, models.GameChannel("g1"))

	require.NoError(t, r.MarkReconnecting(id, 1))
	require.Equal(t, []string{"a"}, r.Resolve(models.GameChannel("g1")))
}

func TestRegistryReportQualityClamps(t *testing.T) {
	r := New()
	id := mustAdd(t, r, models.Connection{ID: "a"})

	require.NoError(t, r.ReportQuality(id, -time.Second, 3))
	conn, _ := r.Get(id)
	require.Equal(t, time.Duration(0), conn.Latency)
	require.Equal(t, 1.0, conn.LossRate)
}

func TestRegistryStats(t *testing.T) {
	r := New()
	a := mustAdd(t, r, models.Connection{ID: "a"})
	b := mustAdd(t, r, models.Connection{ID: "b"})
	mustAdd(t, r, models.Connection{ID: "c"})

	require.NoError(t, r.BindUser(a, "u1"))
	require.NoError(t, r.BindUser(b, "u1"))
	r.Subscribe(a, models.GameChannel("g1"))
	r.Subscribe(b, models.GameChannel("g2"))
	require.NoError(t, r.MarkReconnecting(b, 1))

	stats := r.Stats()
	require.Equal(t, models.AggregateStats{
		Connections:   3,
		Authenticated: 2,
		Reconnecting:  1,
		Users:         1,
		Channels:      3,
		GameChannels:  2,
		Subscriptions: 4,
	}, stats)
}

func TestRegistryForEachStops(t *testing.T) {
	r := New()
	for _, id := range []string{"a", "b", "c"} {
		mustAdd(t, r, models.Connection{ID: id})
	}
	var seen int
	r.ForEach(func(models.Connection) bool {
		seen++
		return seen < 2
	})
	require.Equal(t, 2, seen)
	require.Equal(t, []string{"a", "b", "c"}, sortedIDs(r.IDs()))
}

func TestRegistryConcurrentRemoveSingleWinner(t *testing.T) {
	r := New()
	const conns = 50
	for i := 0; i < conns; i++ {
		id := mustAdd(t, r, models.Connection{})
		r.Subscribe(id, models.GameChannel("g1"))
	}

	var removed int64
	var wg sync.WaitGroup
	for _, id := range r.IDs() {
		// client close, heartbeat force-close and shutdown racing each other
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, ok := r.Remove(id); ok {
					atomic.AddInt64(&removed, 1)
				}
			}(id)
		}
	}
	wg.Wait()

	require.Equal(t, int64(conns), removed)
	require.Zero(t, r.Len())
	require.Empty(t, r.Channels())
}

func TestRegistryConcurrentSubscribeConsistency(t *testing.T) {
	r := New()
	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, mustAdd(t, r, models.Connection{}))
	}

	channels := []models.ChannelID{models.GameChannel("g1"), models.GameChannel("g2"), models.UserChannel("u1")}
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				ch := channels[(i+j)%len(channels)]
				if j%3 == 0 {
					r.Unsubscribe(id, ch)
				} else {
					r.Subscribe(id, ch)
				}
			}
			if i%4 == 0 {
				r.Remove(id)
			}
		}(i, id)
	}
	wg.Wait()

	requireConsistent(t, r)
}

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/google/uuid"
)

type LivenessKind int

const (
	LivenessPingSent LivenessKind = iota
	LivenessPongReceived
)

type entry struct {
	conn     models.Connection
	channels map[models.ChannelID]struct{}
}

func (e *entry) snapshot() models.Connection {
	c := e.conn
	c.Channels = make([]models.ChannelID, 0, len(e.channels))
	for ch := range e.channels {
		c.Channels = append(c.Channels, ch)
	}
	return c
}

// Registry owns the live connections and the channel subscription index.
// Both maps are guarded by one lock so a reader never sees a connection that is
// live in one index and already gone from the other.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*entry
	channels map[models.ChannelID]map[string]struct{}
	clock    func() time.Time
}

type Option func(*Registry)

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		r.clock = clock
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		conns:    make(map[string]*entry),
		channels: make(map[models.ChannelID]map[string]struct{}),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Now() time.Time {
	return r.clock()
}

// Add registers conn and returns its id. A missing id is generated. An id
// that is already registered is refused and the existing entry is left as is.
func (r *Registry) Add(conn models.Connection) (string, error) {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	now := r.clock()
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = now
	}
	if conn.LastPongReceivedAt.IsZero() {
		conn.LastPongReceivedAt = now
	}
	if conn.LastPingSentAt.IsZero() {
		conn.LastPingSentAt = now
	}
	conn.Status = models.StatusConnected
	conn.Channels = nil

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return "", fmt.Errorf("connection %s: %w", conn.ID, models.ErrAlreadyExists)
	}
	r.conns[conn.ID] = &entry{conn: conn, channels: make(map[models.ChannelID]struct{})}
	return conn.ID, nil
}

func (r *Registry) Get(id string) (models.Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return models.Connection{}, fmt.Errorf("connection %s: %w", id, models.ErrNotFound)
	}
	return e.snapshot(), nil
}

// Remove drops the connection from the registry and from every channel it
// joined. Only the first caller for a given id gets removed == true; later
// calls are no-ops.
func (r *Registry) Remove(id string) (conn models.Connection, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return models.Connection{}, false
	}
	return r.removeLocked(id, e), true
}

// RemoveIfSilentSince removes the connection only if its last pong is not
// after cutoff. A pong that lands after the caller's snapshot keeps it alive.
func (r *Registry) RemoveIfSilentSince(id string, cutoff time.Time) (conn models.Connection, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok || e.conn.LastPongReceivedAt.After(cutoff) {
		return models.Connection{}, false
	}
	return r.removeLocked(id, e), true
}

func (r *Registry) removeLocked(id string, e *entry) models.Connection {
	conn := e.snapshot()
	r.unsubscribeAllLocked(id, e)
	delete(r.conns, id)

	conn.Status = models.StatusDisconnected
	return conn
}

// ForEach calls fn with a snapshot of every connection until fn returns false.
// fn runs outside the lock and may call back into the registry.
func (r *Registry) ForEach(fn func(models.Connection) bool) {
	r.mu.RLock()
	snapshots := make([]models.Connection, 0, len(r.conns))
	for _, e := range r.conns {
		snapshots = append(snapshots, e.snapshot())
	}
	r.mu.RUnlock()

	for _, conn := range snapshots {
		if !fn(conn) {
			return
		}
	}
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) UpdateLiveness(id string, kind LivenessKind) error {
	now := r.clock()

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, models.ErrNotFound)
	}
	switch kind {
	case LivenessPingSent:
		e.conn.LastPingSentAt = now
	case LivenessPongReceived:
		e.conn.LastPongReceivedAt = now
		e.conn.MissedHeartbeats = 0
		if e.conn.Status == models.StatusReconnecting {
			e.conn.Status = models.StatusConnected
		}
	default:
		return fmt.Errorf("unknown liveness kind %d", kind)
	}
	return nil
}

// RecordMissedHeartbeat bumps the failure counter and returns its new value.
func (r *Registry) RecordMissedHeartbeat(id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return 0, fmt.Errorf("connection %s: %w", id, models.ErrNotFound)
	}
	e.conn.MissedHeartbeats++
	return e.conn.MissedHeartbeats, nil
}

// BindUser attaches userID to the connection and joins its user channel in
// the same critical section.
func (r *Registry) BindUser(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, models.ErrNotFound)
	}
	if e.conn.UserID != "" && e.conn.UserID != userID {
		r.unsubscribeLocked(id, e, models.UserChannel(e.conn.UserID))
	}
	e.conn.UserID = userID
	r.subscribeLocked(id, e, models.UserChannel(userID))
	return nil
}

// MarkReconnecting records the client-reported retry count. Subscriptions are
// kept so the client resumes where it left off.
func (r *Registry) MarkReconnecting(id string, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, models.ErrNotFound)
	}
	if retryCount < 0 {
		retryCount = 0
	}
	e.conn.RetryCount = retryCount
	e.conn.Status = models.StatusReconnecting
	return nil
}

func (r *Registry) ReportQuality(id string, latency time.Duration, lossRate float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, models.ErrNotFound)
	}
	if latency < 0 {
		latency = 0
	}
	if lossRate < 0 {
		lossRate = 0
	}
	if lossRate > 1 {
		lossRate = 1
	}
	e.conn.Latency = latency
	e.conn.LossRate = lossRate
	return nil
}

package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/dispatcher"
	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/ratelimit"
	"github.com/anatoly-dev/game-realtime/pkg/reconnect"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	ReasonClientClosed     = "client closed"
	ReasonHeartbeatTimeout = "heartbeat timeout"
	ReasonServerShutdown   = "server shutdown"
	ReasonTransportError   = "transport error"
)

type Config struct {
	ServerID       string
	AllowedOrigins []string
	// TrustedProxies lists addresses or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies    []string
	SendQueueSize     int
	MaxMessageSize    int64
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	// IdleTimeout bounds a silent read; zero leaves liveness to the heartbeat monitor.
	IdleTimeout time.Duration
}

type Manager struct {
	cfg            Config
	registry       *registry.Registry
	dispatcher     *dispatcher.Dispatcher
	connLimiter    ratelimit.Limiter
	cmdLimiter     ratelimit.Limiter
	reconnect      reconnect.Policy
	auth           Authenticator
	upgrader       websocket.Upgrader
	trustedProxies []netip.Prefix
	logger         *zap.Logger
	metrics        *metrics.WebSocketMetrics
	hbMetrics      *metrics.HeartbeatMetrics

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler

	accepting atomic.Bool
	sessions  sync.WaitGroup
}

func NewManager(
	cfg Config,
	reg *registry.Registry,
	disp *dispatcher.Dispatcher,
	connLimiter ratelimit.Limiter,
	cmdLimiter ratelimit.Limiter,
	policy reconnect.Policy,
	logger *zap.Logger,
) *Manager {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	manager := &Manager{
		cfg:         cfg,
		registry:    reg,
		dispatcher:  disp,
		connLimiter: connLimiter,
		cmdLimiter:  cmdLimiter,
		reconnect:   policy,
		auth:        AllowAll{},
		logger:      logger,
		handlers:    make(map[string]RequestHandler),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin is checked in HandleConnection before upgrading
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	manager.accepting.Store(true)

	proxies, err := ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Warn("Ignoring trusted proxies", zap.Error(err))
	}
	manager.trustedProxies = proxies

	return manager
}

func (m *Manager) SetMetrics(metrics *metrics.Metrics) {
	m.metrics = &metrics.WebSocket
	m.hbMetrics = &metrics.Heartbeat
}

func (m *Manager) SetAuthenticator(auth Authenticator) {
	m.auth = auth
}

// Handle registers a domain request handler for event. Domain requests
// require an authenticated connection.
func (m *Manager) Handle(event string, handler RequestHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[event] = handler
}

func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if !m.accepting.Load() {
		m.rejectAdmission("draining")
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	if !m.originAllowed(r.Header.Get("Origin")) {
		m.logger.Warn("Rejected connection from disallowed origin",
			zap.String("origin", r.Header.Get("Origin")),
			zap.Error(models.ErrAdmissionRejected))
		m.rejectAdmission("origin")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	remoteAddr := m.clientAddr(r)
	if res := m.connLimiter.Check(remoteAddr); !res.Allowed {
		m.logger.Warn("Connection rate limit exceeded",
			zap.String("remoteAddr", remoteAddr),
			zap.Int("count", res.Count),
			zap.Error(models.ErrAdmissionRejected))
		m.rejectAdmission("rate_limit")
		m.refuse(conn, res)
		return
	}

	id := uuid.New().String()
	session := newSession(id, conn, m)

	// queued before the session is visible to publishers or its own read loop
	frame, err := models.EncodeEnvelope(models.EventConnectionConfig, models.ConnectionConfig{
		ConnectionID:      id,
		HeartbeatInterval: models.Millis(m.cfg.HeartbeatInterval),
		Reconnection:      m.reconnect.ClientConfig(),
		ServerID:          m.cfg.ServerID,
	}, m.cfg.ServerID, m.registry.Now())
	if err == nil && session.Send(frame) == nil && m.metrics != nil {
		m.metrics.MessagesSent.WithLabelValues(models.EventConnectionConfig).Inc()
	}

	if _, err := m.registry.Add(models.Connection{
		ID: id,
		Metadata: models.Metadata{
			UserAgent:  r.UserAgent(),
			RemoteAddr: remoteAddr,
			Platform:   clientPlatform(r),
		},
		Transport: session,
	}); err != nil {
		m.logger.Error("Failed to register connection",
			zap.String("connectionID", id),
			zap.Error(err))
		session.Close(ReasonTransportError)
		conn.Close()
		return
	}

	if m.metrics != nil {
		m.metrics.ActiveConnections.Set(float64(m.registry.Len()))
		m.metrics.ConnectionsTotal.Inc()
	}

	m.logger.Info("Client connected",
		zap.String("connectionID", id),
		zap.String("remoteAddr", remoteAddr))

	m.sessions.Add(2)
	go session.writePump()
	go session.readPump()
}

// refuse tells a throttled client why before dropping it. The connection never
// enters the registry.
func (m *Manager) refuse(conn *websocket.Conn, res ratelimit.Result) {
	defer conn.Close()

	frame, err := models.EncodeEnvelope(models.EventRateLimit, models.RateLimitNotice{
		Message:   "Too many connection attempts",
		ResetTime: res.ResetAt.UnixMilli(),
		Limit:     res.Limit,
		Window:    models.Millis(res.Window),
	}, m.cfg.ServerID, m.registry.Now())
	if err != nil {
		return
	}

	deadline := time.Now().Add(m.cfg.WriteTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"), deadline)
}

// disconnect is the single teardown path. Only the caller that actually
// removes the connection from the registry closes its transport.
func (m *Manager) disconnect(id string, reason string, notify bool) bool {
	conn, removed := m.registry.Remove(id)
	if !removed {
		return false
	}
	m.teardown(conn, reason, notify)
	return true
}

func (m *Manager) teardown(conn models.Connection, reason string, notify bool) {
	if notify && conn.Transport != nil {
		frame, err := models.EncodeEnvelope(models.EventServerDisconnect,
			models.DisconnectNotice{Reason: reason}, m.cfg.ServerID, m.registry.Now())
		if err == nil {
			conn.Transport.Send(frame)
		}
	}
	if conn.Transport != nil {
		conn.Transport.Close(reason)
	}

	if m.metrics != nil {
		m.metrics.ActiveConnections.Set(float64(m.registry.Len()))
		m.metrics.ConnectionDuration.Observe(time.Since(conn.ConnectedAt).Seconds())
		m.metrics.Disconnects.WithLabelValues(strings.ReplaceAll(reason, " ", "_")).Inc()
	}

	m.logger.Info("Client disconnected",
		zap.String("connectionID", conn.ID),
		zap.String("userID", conn.UserID),
		zap.String("reason", reason),
		zap.Int("channels", len(conn.Channels)))
}

func (m *Manager) SendPing(connID string) error {
	conn, err := m.registry.Get(connID)
	if err != nil {
		return err
	}
	return conn.Transport.Ping()
}

func (m *Manager) SendWarning(connID string, warning models.HeartbeatWarning) error {
	return m.dispatcher.SendTo(connID, models.EventHeartbeatWarning, warning)
}

func (m *Manager) ForceClose(connID string, reason string) bool {
	return m.disconnect(connID, reason, true)
}

// CloseIfSilent force-closes connID unless a pong arrived after cutoff.
func (m *Manager) CloseIfSilent(connID string, reason string, cutoff time.Time) bool {
	conn, removed := m.registry.RemoveIfSilentSince(connID, cutoff)
	if !removed {
		return false
	}
	m.teardown(conn, reason, true)
	return true
}

func (m *Manager) StopAccepting() {
	m.accepting.Store(false)
}

func (m *Manager) Accepting() bool {
	return m.accepting.Load()
}

func (m *Manager) NotifyShutdown(grace time.Duration) int {
	return m.dispatcher.Broadcast(models.EventServerShutdown, models.DisconnectNotice{
		Reason:          ReasonServerShutdown,
		GracefulTimeout: models.Millis(grace),
	})
}

// CloseAll force-closes every remaining connection and returns how many it closed.
func (m *Manager) CloseAll(reason string) int {
	var closed int
	for _, id := range m.registry.IDs() {
		if m.disconnect(id, reason, true) {
			closed++
		}
	}
	return closed
}

func (m *Manager) ConnectionCount() int {
	return m.registry.Len()
}

// WaitSessions blocks until every read/write pump has exited or ctx is done.
func (m *Manager) WaitSessions(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) rejectAdmission(reason string) {
	if m.metrics != nil {
		m.metrics.AdmissionRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) originAllowed(origin string) bool {
	if origin == "" || len(m.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range m.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// clientAddr is the peer host. X-Forwarded-For is honoured only when the peer
// is a trusted proxy; the client is then the rightmost untrusted hop.
func (m *Manager) clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !m.trusted(host) {
		return host
	}

	fwd := r.Header.Get("X-Forwarded-For")
	if fwd == "" {
		return host
	}
	hops := strings.Split(fwd, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if i == 0 || !m.trusted(hop) {
			return hop
		}
	}
	return host
}

func (m *Manager) trusted(host string) bool {
	if len(m.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range m.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies accepts plain addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func clientPlatform(r *http.Request) string {
	if p := r.URL.Query().Get("platform"); p != "" {
		return p
	}
	return r.Header.Get("X-Client-Platform")
}

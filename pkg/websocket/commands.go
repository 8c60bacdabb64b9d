package websocket

import (
	"context"
	"strings"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const authTimeout = 5 * time.Second

// Request is a domain-specific command forwarded to a collaborator.
type Request struct {
	ConnectionID string
	UserID       string
	Event        string
	Data         json.RawMessage
}

// RequestHandler serves one domain event. The result is sent back as
// <event>:success, an error as <event>:error, to the originating connection only.
type RequestHandler func(ctx context.Context, req Request) (interface{}, error)

var knownEvents = map[string]bool{
	models.EventConnectionConfig:      true,
	models.EventAuth:                  true,
	models.EventAuthSuccess:           true,
	models.EventAuthError:             true,
	models.EventGameSubscribe:         true,
	models.EventGameUnsubscribe:       true,
	models.EventGameSubscribed:        true,
	models.EventGameUnsubscribed:      true,
	models.EventPing:                  true,
	models.EventPong:                  true,
	models.EventReconnectAttempt:      true,
	models.EventReconnectAcknowledged: true,
	models.EventNetworkQuality:        true,
	models.EventRateLimit:             true,
	models.EventHeartbeatWarning:      true,
	models.EventError:                 true,
	"malformed":                       true,
	"unknown":                         true,
}

// handleFrame throttles before decoding so malformed frames count against
// the command limit too.
func (m *Manager) handleFrame(s *Session, raw []byte) {
	if res := m.cmdLimiter.Check(s.id); !res.Allowed {
		m.logger.Debug("Command rate limit exceeded",
			zap.String("connectionID", s.id),
			zap.Int("count", res.Count),
			zap.Error(models.ErrRateLimited))
		m.reply(s.id, models.EventRateLimit, models.RateLimitNotice{
			Message:   "Too many requests",
			ResetTime: res.ResetAt.UnixMilli(),
			Limit:     res.Limit,
			Window:    models.Millis(res.Window),
		})
		return
	}

	frame, err := models.DecodeFrame(raw)
	if err != nil {
		m.logger.Debug("Dropped malformed frame",
			zap.String("connectionID", s.id),
			zap.Error(err))
		m.commandFailed("malformed")
		m.reply(s.id, models.EventError, models.ErrorNotice{Message: "malformed frame"})
		return
	}

	if m.metrics != nil {
		m.metrics.MessagesReceived.WithLabelValues(m.eventLabel(frame.Event)).Inc()
	}

	switch frame.Event {
	case models.EventAuth:
		m.handleAuth(s, frame)
	case models.EventGameSubscribe:
		m.handleSubscribe(s, frame)
	case models.EventGameUnsubscribe:
		m.handleUnsubscribe(s, frame)
	case models.EventPing:
		m.handlePing(s, frame)
	case models.EventReconnectAttempt:
		m.handleReconnect(s, frame)
	case models.EventNetworkQuality:
		m.handleNetworkQuality(s, frame)
	default:
		m.handleRequest(s, frame)
	}
}

func (m *Manager) handleAuth(s *Session, frame models.InboundFrame) {
	var req models.AuthRequest
	if err := frame.DecodeData(&req); err != nil || req.UserID == "" {
		m.commandFailed(frame.Event)
		m.reply(s.id, models.EventAuthError, models.AuthResult{Message: "userId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, authTimeout)
	defer cancel()

	if err := m.auth.Authenticate(ctx, req.UserID, req.Token); err != nil {
		m.logger.Warn("Authentication failed",
			zap.String("connectionID", s.id),
			zap.String("userID", req.UserID),
			zap.Error(err))
		m.commandFailed(frame.Event)
		m.reply(s.id, models.EventAuthError, models.AuthResult{Message: "authentication failed"})
		return
	}

	if err := m.registry.BindUser(s.id, req.UserID); err != nil {
		return
	}

	m.logger.Info("Client authenticated",
		zap.String("connectionID", s.id),
		zap.String("userID", req.UserID))
	m.reply(s.id, models.EventAuthSuccess, models.AuthResult{UserID: req.UserID})
}

func (m *Manager) handleSubscribe(s *Session, frame models.InboundFrame) {
	var req models.GameRequest
	if err := frame.DecodeData(&req); err != nil || req.GameID == "" {
		m.commandFailed(frame.Event)
		m.reply(s.id, models.EventError, models.ErrorNotice{Message: "gameId is required"})
		return
	}

	count := m.registry.Subscribe(s.id, models.GameChannel(req.GameID))
	m.logger.Debug("Client subscribed to game",
		zap.String("connectionID", s.id),
		zap.String("gameID", req.GameID),
		zap.Int("subscribers", count))
	m.reply(s.id, models.EventGameSubscribed, models.GameSubscription{GameID: req.GameID, SubscriberCount: count})
}

func (m *Manager) handleUnsubscribe(s *Session, frame models.InboundFrame) {
	var req models.GameRequest
	if err := frame.DecodeData(&req); err != nil || req.GameID == "" {
		m.commandFailed(frame.Event)
		m.reply(s.id, models.EventError, models.ErrorNotice{Message: "gameId is required"})
		return
	}

	count := m.registry.Unsubscribe(s.id, models.GameChannel(req.GameID))
	m.reply(s.id, models.EventGameUnsubscribed, models.GameSubscription{GameID: req.GameID, SubscriberCount: count})
}

func (m *Manager) handlePing(s *Session, frame models.InboundFrame) {
	var req models.PingPayload
	if err := frame.DecodeData(&req); err != nil {
		// a ping with a bad payload still proves liveness
		m.logger.Debug("Ignored malformed ping payload",
			zap.String("connectionID", s.id),
			zap.Error(err))
		req = models.PingPayload{}
	}
	if req.Timestamp == 0 {
		req.Timestamp = m.registry.Now().UnixMilli()
	}

	if err := m.registry.UpdateLiveness(s.id, registry.LivenessPongReceived); err == nil && m.hbMetrics != nil {
		m.hbMetrics.PongsReceived.Inc()
	}
	m.reply(s.id, models.EventPong, req)
}

func (m *Manager) handleReconnect(s *Session, frame models.InboundFrame) {
	var req models.ReconnectAttempt
	if err := frame.DecodeData(&req); err != nil {
		m.commandFailed(frame.Event)
		m.reply(s.id, models.EventError, models.ErrorNotice{Message: "invalid reconnect_attempt payload"})
		return
	}

	if err := m.registry.MarkReconnecting(s.id, req.RetryCount); err != nil {
		return
	}

	ack := m.reconnect.Acknowledge(req.RetryCount)
	m.logger.Info("Client reconnect attempt",
		zap.String("connectionID", s.id),
		zap.Int("retryCount", req.RetryCount),
		zap.Int64("nextRetryDelay", ack.NextRetryDelay),
		zap.Bool("exhausted", m.reconnect.Exhausted(req.RetryCount)))
	m.reply(s.id, models.EventReconnectAcknowledged, ack)
}

func (m *Manager) handleNetworkQuality(s *Session, frame models.InboundFrame) {
	var req models.NetworkQuality
	if err := frame.DecodeData(&req); err != nil {
		m.commandFailed(frame.Event)
		return
	}
	m.registry.ReportQuality(s.id, time.Duration(req.Latency)*time.Millisecond, req.LossRate)
}

func (m *Manager) handleRequest(s *Session, frame models.InboundFrame) {
	m.handlersMu.RLock()
	handler, ok := m.handlers[frame.Event]
	m.handlersMu.RUnlock()

	if !ok {
		m.commandFailed("unknown")
		m.reply(s.id, models.EventError, models.ErrorNotice{Message: "unknown event " + frame.Event})
		return
	}

	conn, err := m.registry.Get(s.id)
	if err != nil {
		return
	}
	if !conn.Authenticated() {
		m.commandFailed(frame.Event)
		m.reply(s.id, frame.Event+":error", models.ErrorNotice{Message: models.ErrAuthRequired.Error()})
		return
	}

	req := Request{
		ConnectionID: s.id,
		UserID:       conn.UserID,
		Event:        frame.Event,
		Data:         frame.Data,
	}

	// collaborators may be slow; keep the read loop free for heartbeats
	go func() {
		result, err := handler(s.ctx, req)
		if err != nil {
			m.logger.Warn("Request handler failed",
				zap.String("connectionID", s.id),
				zap.String("event", req.Event),
				zap.Error(err))
			m.commandFailed(req.Event)
			m.reply(s.id, req.Event+":error", models.ErrorNotice{Message: err.Error()})
			return
		}
		m.reply(s.id, req.Event+":success", result)
	}()
}

// reply sends to one connection; failures only affect that connection.
func (m *Manager) reply(connID string, event string, payload interface{}) {
	if err := m.dispatcher.SendTo(connID, event, payload); err != nil {
		m.logger.Debug("Failed to reply",
			zap.String("connectionID", connID),
			zap.String("event", event),
			zap.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.MessagesSent.WithLabelValues(m.eventLabel(event)).Inc()
	}
}

func (m *Manager) commandFailed(event string) {
	if m.metrics != nil {
		m.metrics.CommandErrors.WithLabelValues(m.eventLabel(event)).Inc()
	}
}

// eventLabel keeps metric cardinality bounded to known event names.
func (m *Manager) eventLabel(event string) string {
	if knownEvents[event] {
		return event
	}
	base := strings.TrimSuffix(strings.TrimSuffix(event, ":success"), ":error")
	m.handlersMu.RLock()
	_, registered := m.handlers[base]
	m.handlersMu.RUnlock()
	if registered {
		return event
	}
	return "other"
}

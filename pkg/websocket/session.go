package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/models"
	"github.com/anatoly-dev/game-realtime/pkg/registry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session is the transport of one accepted WebSocket. It owns a bounded
// outbound queue drained by writePump, which keeps per-connection delivery in
// enqueue order.
type Session struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *Manager

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closeReason string
}

func newSession(id string, conn *websocket.Conn, manager *Manager) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, manager.cfg.SendQueueSize),
		manager: manager,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Send enqueues frame without blocking.
func (s *Session) Send(frame []byte) error {
	if s.ctx.Err() != nil {
		return models.ErrClosed
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.ctx.Done():
		return models.ErrClosed
	default:
		return models.ErrSlowConsumer
	}
}

func (s *Session) Ping() error {
	if s.ctx.Err() != nil {
		return models.ErrClosed
	}
	deadline := time.Now().Add(s.manager.cfg.WriteTimeout)
	if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("%w: ping: %v", models.ErrTransport, err)
	}
	return nil
}

// Close cancels the session. writePump flushes what is queued, sends a close
// frame and closes the socket, which unblocks readPump.
func (s *Session) Close(reason string) error {
	s.closeOnce.Do(func() {
		s.closeReason = reason
		s.cancel()
	})
	return nil
}

func (s *Session) readPump() {
	m := s.manager
	defer func() {
		m.disconnect(s.id, ReasonClientClosed, false)
		s.conn.Close()
		m.sessions.Done()
	}()

	s.conn.SetReadLimit(m.cfg.MaxMessageSize)
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		if err := m.registry.UpdateLiveness(s.id, registry.LivenessPongReceived); err == nil && m.hbMetrics != nil {
			m.hbMetrics.PongsReceived.Inc()
		}
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				m.logger.Info("WebSocket closed unexpectedly",
					zap.Error(err),
					zap.String("connectionID", s.id))

				if m.metrics != nil {
					m.metrics.UnexpectedCloseCount.Inc()
				}
			}
			return
		}
		s.extendReadDeadline()

		if m.metrics != nil {
			m.metrics.BytesReceived.Add(float64(len(message)))
		}

		m.handleFrame(s, message)
	}
}

func (s *Session) writePump() {
	m := s.manager
	defer func() {
		s.conn.Close()
		m.sessions.Done()
	}()

	for {
		select {
		case frame := <-s.send:
			if err := s.write(frame); err != nil {
				m.logger.Debug("Failed to write frame",
					zap.Error(err),
					zap.String("connectionID", s.id))
				s.Close(ReasonTransportError)
				return
			}

		case <-s.ctx.Done():
			s.flush()
			deadline := time.Now().Add(m.cfg.WriteTimeout)
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, s.closeReason), deadline)
			return
		}
	}
}

func (s *Session) write(frame []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.manager.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	if s.manager.metrics != nil {
		s.manager.metrics.BytesSent.Add(float64(len(frame)))
	}
	return nil
}

// flush writes whatever is already queued, typically the final disconnect notice.
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.send:
			if err := s.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) extendReadDeadline() {
	if idle := s.manager.cfg.IdleTimeout; idle > 0 {
		s.conn.SetReadDeadline(time.Now().Add(idle))
	}
}

package models

import (
	"time"

	"github.com/segmentio/encoding/json"
)

const (
	EventConnectionConfig      = "connection:config"
	EventAuth                  = "auth"
	EventAuthSuccess           = "auth:success"
	EventAuthError             = "auth:error"
	EventGameSubscribe         = "game:subscribe"
	EventGameUnsubscribe       = "game:unsubscribe"
	EventGameSubscribed        = "game:subscribed"
	EventGameUnsubscribed      = "game:unsubscribed"
	EventPing                  = "ping"
	EventPong                  = "pong"
	EventReconnectAttempt      = "reconnect_attempt"
	EventReconnectAcknowledged = "reconnect:acknowledged"
	EventNetworkQuality        = "network:quality"
	EventRateLimit             = "rate:limit"
	EventHeartbeatWarning      = "heartbeat:warning"
	EventServerShutdown        = "server:shutdown"
	EventServerDisconnect      = "server:disconnect"
	EventError                 = "error"
)

// Envelope is the outbound wire frame.
type Envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	ServerID  string      `json:"serverId"`
}

// InboundFrame is what clients send; Data is decoded by the command handler.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ConnectionConfig struct {
	ConnectionID      string          `json:"connectionId"`
	HeartbeatInterval int64           `json:"heartbeatInterval"`
	Reconnection      ReconnectConfig `json:"reconnection"`
	ServerID          string          `json:"serverId"`
}

type ReconnectConfig struct {
	MaxRetries         int   `json:"maxRetries"`
	BaseInterval       int64 `json:"baseInterval"`
	MaxInterval        int64 `json:"maxInterval"`
	ExponentialBackoff bool  `json:"exponentialBackoff"`
}

type AuthRequest struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type AuthResult struct {
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

type GameRequest struct {
	GameID string `json:"gameId"`
}

type GameSubscription struct {
	GameID          string `json:"gameId"`
	SubscriberCount int    `json:"subscriberCount"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type ReconnectAttempt struct {
	RetryCount      int   `json:"retryCount"`
	LastConnectTime int64 `json:"lastConnectTime"`
}

type ReconnectAck struct {
	RetryCount     int   `json:"retryCount"`
	MaxRetries     int   `json:"maxRetries"`
	NextRetryDelay int64 `json:"nextRetryDelay"`
}

// NetworkQuality is reported by clients to stretch their heartbeat interval
// on degraded links.
type NetworkQuality struct {
	Latency  int64   `json:"latency"`
	LossRate float64 `json:"lossRate"`
}

type RateLimitNotice struct {
	Message   string `json:"message"`
	ResetTime int64  `json:"resetTime"`
	Limit     int    `json:"limit"`
	Window    int64  `json:"window"`
}

type HeartbeatWarning struct {
	LastPong  int64 `json:"lastPong"`
	Threshold int64 `json:"threshold"`
}

type DisconnectNotice struct {
	Reason          string `json:"reason"`
	GracefulTimeout int64  `json:"gracefulTimeout,omitempty"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

// DomainEvent is what external collaborators emit (over Kafka) to be fanned
// out to a game or user channel.
type DomainEvent struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Type      string          `json:"type"`
	GameID    string          `json:"gameId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Channel picks the broadcast scope for the event: the game when known,
// otherwise the user.
func (e *DomainEvent) Channel() (ChannelID, bool) {
	switch {
	case e.GameID != "":
		return GameChannel(e.GameID), true
	case e.UserID != "":
		return UserChannel(e.UserID), true
	default:
		return "", false
	}
}

func (e *DomainEvent) EventName() string {
	if e.Source == "" {
		return e.Type
	}
	return e.Source + ":" + e.Type
}

func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

package models

import (
	"time"
)

type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusDisconnected ConnectionStatus = "disconnected"
)

// Transport is the live handle of one client session. Send must not block:
// it enqueues onto the connection's own outbound queue.
type Transport interface {
	Send(frame []byte) error
	Ping() error
	Close(reason string) error
}

// Metadata is captured at accept time and never changes afterwards.
type Metadata struct {
	UserAgent  string `json:"userAgent"`
	RemoteAddr string `json:"remoteAddr"`
	Platform   string `json:"platform"`
}

// Connection is a point-in-time copy of a registry entry.
type Connection struct {
	ID                 string
	UserID             string
	Status             ConnectionStatus
	ConnectedAt        time.Time
	LastPingSentAt     time.Time
	LastPongReceivedAt time.Time
	RetryCount         int
	MissedHeartbeats   int
	Latency            time.Duration
	LossRate           float64
	Channels           []ChannelID
	Metadata           Metadata
	Transport          Transport
}

func (c Connection) Authenticated() bool {
	return c.UserID != ""
}

func (c Connection) InChannel(ch ChannelID) bool {
	for _, joined := range c.Channels {
		if joined == ch {
			return true
		}
	}
	return false
}

type AggregateStats struct {
	Connections   int `json:"connections"`
	Authenticated int `json:"authenticated"`
	Reconnecting  int `json:"reconnecting"`
	Users         int `json:"users"`
	Channels      int `json:"channels"`
	GameChannels  int `json:"gameChannels"`
	Subscriptions int `json:"subscriptions"`
}

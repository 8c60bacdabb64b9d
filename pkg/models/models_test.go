package models

import (
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func TestParseChannel(t *testing.T) {
	ch, err := ParseChannel("game:g1")
	require.NoError(t, err)
	require.Equal(t, GameChannel("g1"), ch)
	require.Equal(t, ChannelKindGame, ch.Kind())
	require.Equal(t, "g1", ch.Subject())

	ch, err = ParseChannel("user:u1")
	require.NoError(t, err)
	require.Equal(t, ChannelKindUser, ch.Kind())

	_, err = ParseChannel("room:1")
	require.Error(t, err)
	_, err = ParseChannel("game:")
	require.Error(t, err)
	_, err = ParseChannel("game")
	require.Error(t, err)
}

func TestEncodeEnvelope(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	frame, err := EncodeEnvelope(EventPong, PingPayload{Timestamp: 42}, "srv-1", ts)
	require.NoError(t, err)

	var decoded struct {
		Event     string      `json:"event"`
		Data      PingPayload `json:"data"`
		Timestamp time.Time   `json:"timestamp"`
		ServerID  string      `json:"serverId"`
	}
	require.NoError(t, json.Unmarshal(frame, &decoded))
	require.Equal(t, EventPong, decoded.Event)
	require.Equal(t, int64(42), decoded.Data.Timestamp)
	require.Equal(t, "srv-1", decoded.ServerID)
	require.True(t, ts.Equal(decoded.Timestamp))
}

func TestDecodeFrame(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"event":"game:subscribe","data":{"gameId":"g1"}}`))
	require.NoError(t, err)
	require.Equal(t, EventGameSubscribe, frame.Event)

	var req GameRequest
	require.NoError(t, frame.DecodeData(&req))
	require.Equal(t, "g1", req.GameID)

	_, err = DecodeFrame([]byte(`{"data":{}}`))
	require.Error(t, err)
	_, err = DecodeFrame([]byte(`not json`))
	require.Error(t, err)
}

func TestDomainEventChannel(t *testing.T) {
	event := &DomainEvent{Source: "interactive", Type: "generation:progress", GameID: "g1", UserID: "u1"}
	ch, ok := event.Channel()
	require.True(t, ok)
	require.Equal(t, GameChannel("g1"), ch)
	require.Equal(t, "interactive:generation:progress", event.EventName())

	event = &DomainEvent{Type: "unlocked", UserID: "u1"}
	ch, ok = event.Channel()
	require.True(t, ok)
	require.Equal(t, UserChannel("u1"), ch)
	require.Equal(t, "unlocked", event.EventName())

	_, ok = (&DomainEvent{Type: "x"}).Channel()
	require.False(t, ok)
}

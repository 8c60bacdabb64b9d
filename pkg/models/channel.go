package models

import (
	"fmt"
	"strings"
)

type ChannelKind string

const (
	ChannelKindGame ChannelKind = "game"
	ChannelKindUser ChannelKind = "user"
)

// ChannelID names a broadcast scope: game:<gameId> or user:<userId>.
type ChannelID string

func GameChannel(gameID string) ChannelID {
	return ChannelID(string(ChannelKindGame) + ":" + gameID)
}

func UserChannel(userID string) ChannelID {
	return ChannelID(string(ChannelKindUser) + ":" + userID)
}

func ParseChannel(raw string) (ChannelID, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok || id == "" {
		return "", fmt.Errorf("invalid channel %q", raw)
	}
	switch ChannelKind(kind) {
	case ChannelKindGame, ChannelKindUser:
		return ChannelID(raw), nil
	default:
		return "", fmt.Errorf("unknown channel kind %q", kind)
	}
}

func (c ChannelID) Kind() ChannelKind {
	kind, _, _ := strings.Cut(string(c), ":")
	return ChannelKind(kind)
}

func (c ChannelID) Subject() string {
	_, id, _ := strings.Cut(string(c), ":")
	return id
}

func (c ChannelID) String() string {
	return string(c)
}

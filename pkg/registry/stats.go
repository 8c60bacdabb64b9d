package registry

import (
	"github.com/anatoly-dev/game-realtime/pkg/models"
)

// Stats recomputes aggregate counts from the indices. Nothing caches them.
func (r *Registry) Stats() models.AggregateStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.AggregateStats{
		Connections: len(r.conns),
		Channels:    len(r.channels),
	}

	users := make(map[string]struct{})
	for _, e := range r.conns {
		if e.conn.UserID != "" {
			stats.Authenticated++
			users[e.conn.UserID] = struct{}{}
		}
		if e.conn.Status == models.StatusReconnecting {
			stats.Reconnecting++
		}
		stats.Subscriptions += len(e.channels)
	}
	stats.Users = len(users)

	for ch := range r.channels {
		if ch.Kind() == models.ChannelKindGame {
			stats.GameChannels++
		}
	}
	return stats
}

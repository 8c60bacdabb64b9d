package registry

import (
	"github.com/anatoly-dev/game-realtime/pkg/models"
)

// Subscribe adds the connection to channel and returns the subscriber count.
// Joining twice, or subscribing an unknown connection, changes nothing.
func (r *Registry) Subscribe(connID string, channel models.ChannelID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return len(r.channels[channel])
	}
	r.subscribeLocked(connID, e, channel)
	return len(r.channels[channel])
}

func (r *Registry) Unsubscribe(connID string, channel models.ChannelID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return len(r.channels[channel])
	}
	r.unsubscribeLocked(connID, e, channel)
	return len(r.channels[channel])
}

// Resolve returns the ids of the connections subscribed to channel.
func (r *Registry) Resolve(channel models.ChannelID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.channels[channel]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// RemoveConnection leaves every channel the connection joined without
// dropping the connection itself.
func (r *Registry) RemoveConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[connID]; ok {
		r.unsubscribeAllLocked(connID, e)
	}
}

func (r *Registry) SubscriberCount(channel models.ChannelID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

func (r *Registry) Channels() []models.ChannelID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]models.ChannelID, 0, len(r.channels))
	for ch := range r.channels {
		channels = append(channels, ch)
	}
	return channels
}

func (r *Registry) subscribeLocked(connID string, e *entry, channel models.ChannelID) {
	if _, ok := e.channels[channel]; ok {
		return
	}
	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		r.channels[channel] = members
	}
	members[connID] = struct{}{}
	e.channels[channel] = struct{}{}
}

func (r *Registry) unsubscribeLocked(connID string, e *entry, channel models.ChannelID) {
	if _, ok := e.channels[channel]; !ok {
		return
	}
	delete(e.channels, channel)
	if members, ok := r.channels[channel]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

func (r *Registry) unsubscribeAllLocked(connID string, e *entry) {
	for channel := range e.channels {
		r.unsubscribeLocked(connID, e, channel)
	}
}

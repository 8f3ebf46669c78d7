// Package rooms indexes which connections belong to which named room.
// Rooms carry no business meaning here beyond their string key.
package rooms

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

type Router struct {
	mu      sync.RWMutex
	members map[domain.RoomName]map[domain.ConnID]struct{}
	joined  map[domain.ConnID]map[domain.RoomName]struct{}
}

func NewRouter() *Router {
	return &Router{
		members: make(map[domain.RoomName]map[domain.ConnID]struct{}),
		joined:  make(map[domain.ConnID]map[domain.RoomName]struct{}),
	}
}

// Join adds the connection to the room, creating the room lazily.
// Joining a room twice is a no-op.
func (r *Router) Join(room domain.RoomName, conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[room]
	if !ok {
		m = make(map[domain.ConnID]struct{})
		r.members[room] = m
	}
	if _, ok := m[conn]; ok {
		return
	}
	m[conn] = struct{}{}
	j, ok := r.joined[conn]
	if !ok {
		j = make(map[domain.RoomName]struct{})
		r.joined[conn] = j
	}
	j[room] = struct{}{}
	log.Debug().Str("module", "rooms").Str("room", string(room)).Str("conn", string(conn)).Msg("joined")
}

// Leave removes the connection from the room. Leaving a room the
// connection is not in is a no-op, not an error.
func (r *Router) Leave(room domain.RoomName, conn domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, conn)
}

func (r *Router) leaveLocked(room domain.RoomName, conn domain.ConnID) {
	if m, ok := r.members[room]; ok {
		delete(m, conn)
		if len(m) == 0 {
			delete(r.members, room)
		}
	}
	if j, ok := r.joined[conn]; ok {
		delete(j, room)
		if len(j) == 0 {
			delete(r.joined, conn)
		}
	}
}

// MembersOf snapshots the room's membership.
func (r *Router) MembersOf(room domain.RoomName) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.members[room]
	out := make([]domain.ConnID, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	return out
}

// Rooms snapshots the rooms the connection is currently in.
func (r *Router) Rooms(conn domain.ConnID) []domain.RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j := r.joined[conn]
	out := make([]domain.RoomName, 0, len(j))
	for name := range j {
		out = append(out, name)
	}
	return out
}

// LeaveAll removes the connection from every room it belongs to, cost
// proportional to the rooms joined. Returns the rooms left.
func (r *Router) LeaveAll(conn domain.ConnID) []domain.RoomName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RoomName, 0, len(r.joined[conn]))
	for room := range r.joined[conn] {
		out = append(out, room)
		if m, ok := r.members[room]; ok {
			delete(m, conn)
			if len(m) == 0 {
				delete(r.members, room)
			}
		}
	}
	delete(r.joined, conn)
	log.Debug().Str("module", "rooms").Str("conn", string(conn)).Int("rooms", len(out)).Msg("left all")
	return out
}

// Drop evicts every member and deletes the room, used when a call room's
// session reaches a terminal state.
func (r *Router) Drop(room domain.RoomName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.members[room] {
		if j, ok := r.joined[conn]; ok {
			delete(j, room)
			if len(j) == 0 {
				delete(r.joined, conn)
			}
		}
	}
	delete(r.members, room)
}

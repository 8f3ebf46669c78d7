package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

type connEntry struct {
	user   domain.UserID
	signal core.SignalConnection
	cancel context.CancelFunc
}

// Registry maps live connection ids to their owner and transport. A
// connection belongs to exactly one user for its whole lifetime.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*connEntry)}
}

func (r *Registry) Bind(conn domain.ConnID, user domain.UserID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = &connEntry{user: user, signal: sig, cancel: cancel}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("user", string(user)).Msg("bound connection")
}

func (r *Registry) Unbind(conn domain.ConnID) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return "", false
	}
	delete(r.conns, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("unbound connection")
	return e.user, true
}

// Signal implements dispatch.Lookup.
func (r *Registry) Signal(conn domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[conn]; ok {
		return e.signal, true
	}
	return nil, false
}

func (r *Registry) UserOf(conn domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[conn]; ok {
		return e.user, true
	}
	return "", false
}

// ConnsOf lists this instance's live connections for the user.
func (r *Registry) ConnsOf(user domain.UserID) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.ConnID
	for cid, e := range r.conns {
		if e.user == user {
			out = append(out, cid)
		}
	}
	return out
}

// Cancel aborts the connection's serving context, forcing its pumps down.
func (r *Registry) Cancel(conn domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[conn]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("canceled connection")
	return true
}

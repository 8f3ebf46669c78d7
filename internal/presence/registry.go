package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

// Notifier receives edge events when a user gains its first or loses its
// last connection. Recipient selection (friend graph, contact lists) is
// the notifier's business, not the registry's.
type Notifier interface {
	UserOnline(user domain.UserID, at time.Time)
	UserOffline(user domain.UserID, at time.Time)
}

type Registry struct {
	store Store

	mu     sync.RWMutex
	notify Notifier
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// SetNotifier may be called once at wiring time, before connections arrive.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notify = n
	r.mu.Unlock()
}

func (r *Registry) notifier() Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notify
}

// MarkOnline records a connection for the user. Idempotent per
// (user, conn) pair. Emits a user-online edge event on the user's first
// live connection.
func (r *Registry) MarkOnline(ctx context.Context, user domain.UserID, conn domain.ConnID) error {
	first, err := r.store.AddConn(ctx, user, conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	log.Info().Str("module", "presence").Str("user", string(user)).Str("conn", string(conn)).Bool("first", first).Msg("marked online")
	if first {
		if n := r.notifier(); n != nil {
			n.UserOnline(user, time.Now())
		}
	}
	return nil
}

// MarkOffline removes the connection. Emits a user-offline edge event when
// the user's last connection goes away.
func (r *Registry) MarkOffline(ctx context.Context, user domain.UserID, conn domain.ConnID) error {
	last, err := r.store.RemoveConn(ctx, user, conn)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	log.Info().Str("module", "presence").Str("user", string(user)).Str("conn", string(conn)).Bool("last", last).Msg("marked offline")
	if last {
		if n := r.notifier(); n != nil {
			n.UserOffline(user, time.Now())
		}
	}
	return nil
}

// IsOnline reports whether the user holds at least one open connection.
// When the store cannot be reached the answer is unknown: the error is
// returned and the bool carries no meaning.
func (r *Registry) IsOnline(ctx context.Context, user domain.UserID) (bool, error) {
	conns, err := r.store.Conns(ctx, user)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return len(conns) > 0, nil
}

// ListOnline filters the given users down to the ones currently online.
// Stores implementing BatchStore answer in one round trip; anything else
// falls back to one lookup per user.
func (r *Registry) ListOnline(ctx context.Context, users []domain.UserID) ([]domain.UserID, error) {
	if bs, ok := r.store.(BatchStore); ok {
		out, err := bs.Online(ctx, users)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return out, nil
	}
	out := make([]domain.UserID, 0, len(users))
	for _, u := range users {
		online, err := r.IsOnline(ctx, u)
		if err != nil {
			return nil, err
		}
		if online {
			out = append(out, u)
		}
	}
	return out, nil
}

// LastSeen exposes the store's last-seen timestamp for profile views.
func (r *Registry) LastSeen(ctx context.Context, user domain.UserID) (time.Time, error) {
	t, err := r.store.LastSeen(ctx, user)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return t, nil
}

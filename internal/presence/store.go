// Package presence tracks which users currently hold at least one open
// connection. The registry is a service object over an injected Store so
// that multiple hub instances can share state through one backing store.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

// ErrStoreUnavailable marks infrastructure failures. Callers must treat it
// as "unknown", never as "offline".
var ErrStoreUnavailable = errors.New("presence store unavailable")

// Store is the key-value backing for presence entries. Every method is
// atomic with respect to a single user key; operations on different users
// never contend on each other's entries.
type Store interface {
	// AddConn records a connection for the user and reports whether it was
	// the user's first live connection.
	AddConn(ctx context.Context, user domain.UserID, conn domain.ConnID) (first bool, err error)
	// RemoveConn drops a connection and reports whether the user has no
	// live connections left. Removing an unknown connection is a no-op.
	RemoveConn(ctx context.Context, user domain.UserID, conn domain.ConnID) (last bool, err error)
	// Conns lists the user's live connection ids.
	Conns(ctx context.Context, user domain.UserID) ([]domain.ConnID, error)
	// LastSeen returns the time of the user's latest connect or disconnect,
	// zero if the user was never seen.
	LastSeen(ctx context.Context, user domain.UserID) (time.Time, error)
}

// BatchStore is an optional Store extension for backends that can answer
// a presence batch in one round trip instead of one Conns call per user.
type BatchStore interface {
	// Online filters the given users down to the ones with at least one
	// live connection.
	Online(ctx context.Context, users []domain.UserID) ([]domain.UserID, error)
}

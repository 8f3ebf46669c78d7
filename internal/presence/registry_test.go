package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

type recordingNotifier struct {
	mu      sync.Mutex
	online  []domain.UserID
	offline []domain.UserID
}

func (n *recordingNotifier) UserOnline(u domain.UserID, _ time.Time) {
	n.mu.Lock()
	n.online = append(n.online, u)
	n.mu.Unlock()
}

func (n *recordingNotifier) UserOffline(u domain.UserID, _ time.Time) {
	n.mu.Lock()
	n.offline = append(n.offline, u)
	n.mu.Unlock()
}

type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) AddConn(context.Context, domain.UserID, domain.ConnID) (bool, error) {
	return false, errDown
}

func (failingStore) RemoveConn(context.Context, domain.UserID, domain.ConnID) (bool, error) {
	return false, errDown
}

func (failingStore) Conns(context.Context, domain.UserID) ([]domain.ConnID, error) {
	return nil, errDown
}

func (failingStore) LastSeen(context.Context, domain.UserID) (time.Time, error) {
	return time.Time{}, errDown
}

func TestOnlineWhileAnyConnectionOpen(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemStore())
	user := domain.UserID("alice")
	c1, c2 := domain.NewConnID(), domain.NewConnID()

	if err := reg.MarkOnline(ctx, user, c1); err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}
	if err := reg.MarkOnline(ctx, user, c2); err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}

	if online, _ := reg.IsOnline(ctx, user); !online {
		t.Error("user with two connections should be online")
	}

	if err := reg.MarkOffline(ctx, user, c1); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	if online, _ := reg.IsOnline(ctx, user); !online {
		t.Error("user with one remaining connection should stay online")
	}

	if err := reg.MarkOffline(ctx, user, c2); err != nil {
		t.Fatalf("MarkOffline: %v", err)
	}
	if online, _ := reg.IsOnline(ctx, user); online {
		t.Error("user with no connections should be offline")
	}
}

func TestNotifierFiresOnEdgesOnly(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemStore())
	n := &recordingNotifier{}
	reg.SetNotifier(n)
	user := domain.UserID("bob")
	c1, c2 := domain.NewConnID(), domain.NewConnID()

	_ = reg.MarkOnline(ctx, user, c1)
	_ = reg.MarkOnline(ctx, user, c2) // second device, no edge
	_ = reg.MarkOffline(ctx, user, c1)
	_ = reg.MarkOffline(ctx, user, c2)

	if len(n.online) != 1 || n.online[0] != user {
		t.Errorf("want exactly one online edge, got %v", n.online)
	}
	if len(n.offline) != 1 || n.offline[0] != user {
		t.Errorf("want exactly one offline edge, got %v", n.offline)
	}
}

func TestMarkOnlineIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	reg := NewRegistry(store)
	user := domain.UserID("carol")
	conn := domain.NewConnID()

	_ = reg.MarkOnline(ctx, user, conn)
	_ = reg.MarkOnline(ctx, user, conn)

	conns, err := store.Conns(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	if len(conns) != 1 {
		t.Errorf("want one connection recorded, got %d", len(conns))
	}
}

func TestStoreFailureIsNotOffline(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(failingStore{})

	_, err := reg.IsOnline(ctx, "alice")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}

	if err := reg.MarkOnline(ctx, "alice", domain.NewConnID()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable from MarkOnline, got %v", err)
	}

	if _, err := reg.ListOnline(ctx, []domain.UserID{"alice"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable from ListOnline, got %v", err)
	}
}

func TestListOnline(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(NewMemStore())
	_ = reg.MarkOnline(ctx, "alice", domain.NewConnID())
	_ = reg.MarkOnline(ctx, "bob", domain.NewConnID())

	got, err := reg.ListOnline(ctx, []domain.UserID{"alice", "bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 online users, got %v", got)
	}
}

// loopStore hides MemStore's batch method so the per-user fallback path
// stays exercised.
type loopStore struct {
	inner *MemStore
}

func (s loopStore) AddConn(ctx context.Context, u domain.UserID, c domain.ConnID) (bool, error) {
	return s.inner.AddConn(ctx, u, c)
}

func (s loopStore) RemoveConn(ctx context.Context, u domain.UserID, c domain.ConnID) (bool, error) {
	return s.inner.RemoveConn(ctx, u, c)
}

func (s loopStore) Conns(ctx context.Context, u domain.UserID) ([]domain.ConnID, error) {
	return s.inner.Conns(ctx, u)
}

func (s loopStore) LastSeen(ctx context.Context, u domain.UserID) (time.Time, error) {
	return s.inner.LastSeen(ctx, u)
}

func TestListOnlineWithoutBatchStore(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(loopStore{inner: NewMemStore()})
	_ = reg.MarkOnline(ctx, "alice", domain.NewConnID())

	got, err := reg.ListOnline(ctx, []domain.UserID{"alice", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("fallback path: got %v, want [alice]", got)
	}
}

func TestMemStoreAnswersBatch(t *testing.T) {
	var _ BatchStore = NewMemStore()

	ctx := context.Background()
	store := NewMemStore()
	_, _ = store.AddConn(ctx, "alice", domain.NewConnID())

	got, err := store.Online(ctx, []domain.UserID{"alice", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "alice" {
		t.Errorf("got %v, want [alice]", got)
	}
}

package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/rooms"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (f *fakeConn) TrySend(frame core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) events(t *testing.T) []core.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Event, 0, len(f.frames))
	for _, frame := range f.frames {
		var e core.Event
		if err := json.Unmarshal(frame, &e); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, e)
	}
	return out
}

type fakeLookup struct {
	mu    sync.Mutex
	conns map[domain.ConnID]*fakeConn
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{conns: make(map[domain.ConnID]*fakeConn)}
}

func (l *fakeLookup) add(conn domain.ConnID) *fakeConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &fakeConn{}
	l.conns[conn] = c
	return c
}

func (l *fakeLookup) Signal(conn domain.ConnID) (core.SignalConnection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.conns[conn]
	return c, ok
}

func TestPublishExcludesSender(t *testing.T) {
	router := rooms.NewRouter()
	lookup := newFakeLookup()
	d := NewDispatcher(router, lookup)
	room := domain.ChatRoom("general")

	sender := domain.NewConnID()
	lookup.add(sender)
	router.Join(room, sender)

	receivers := make([]*fakeConn, 0, 9)
	for i := 0; i < 9; i++ {
		cid := domain.NewConnID()
		receivers = append(receivers, lookup.add(cid))
		router.Join(room, cid)
	}

	sent := d.Publish(room, core.EventMessageReceive, map[string]string{"content": "hi"}, sender)
	if sent != 9 {
		t.Errorf("want 9 deliveries, got %d", sent)
	}
	for i, rc := range receivers {
		if got := rc.events(t); len(got) != 1 || got[0].Event != core.EventMessageReceive {
			t.Errorf("receiver %d got %v", i, got)
		}
	}

	lookup.mu.Lock()
	senderFrames := len(lookup.conns[sender].frames)
	lookup.mu.Unlock()
	if senderFrames != 0 {
		t.Errorf("sender must be excluded, got %d frames", senderFrames)
	}
}

func TestDeadRecipientDoesNotAbortFanout(t *testing.T) {
	router := rooms.NewRouter()
	lookup := newFakeLookup()
	d := NewDispatcher(router, lookup)
	room := domain.ChatRoom("general")

	dead := domain.NewConnID()
	lookup.add(dead).fail = true
	router.Join(room, dead)

	// A member whose connection already vanished from the registry.
	gone := domain.NewConnID()
	router.Join(room, gone)

	alive := domain.NewConnID()
	aliveConn := lookup.add(alive)
	router.Join(room, alive)

	sent := d.Publish(room, core.EventMessageReceive, nil)
	if sent != 1 {
		t.Errorf("want 1 delivery, got %d", sent)
	}
	if got := aliveConn.events(t); len(got) != 1 {
		t.Errorf("live recipient must still receive, got %v", got)
	}
}

func TestUndeliverableRecipientEvicted(t *testing.T) {
	router := rooms.NewRouter()
	lookup := newFakeLookup()
	d := NewDispatcher(router, lookup)
	room := domain.ChatRoom("general")

	var mu sync.Mutex
	var evicted []domain.ConnID
	d.OnEvict(func(c domain.ConnID) {
		mu.Lock()
		evicted = append(evicted, c)
		mu.Unlock()
	})

	slow := domain.NewConnID()
	lookup.add(slow).fail = true
	router.Join(room, slow)

	alive := domain.NewConnID()
	lookup.add(alive)
	router.Join(room, alive)

	if sent := d.Publish(room, core.EventMessageReceive, nil); sent != 1 {
		t.Errorf("want 1 delivery, got %d", sent)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != slow {
		t.Errorf("evicted = %v, want [%s]", evicted, slow)
	}
}

func TestSenderOrderPreservedPerRecipient(t *testing.T) {
	router := rooms.NewRouter()
	lookup := newFakeLookup()
	d := NewDispatcher(router, lookup)
	room := domain.ChatRoom("ordered")

	recv := domain.NewConnID()
	rc := lookup.add(recv)
	router.Join(room, recv)

	const n = 50
	for i := 0; i < n; i++ {
		d.Publish(room, core.EventMessageReceive, map[string]int{"seq": i})
	}

	got := rc.events(t)
	if len(got) != n {
		t.Fatalf("want %d events, got %d", n, len(got))
	}
	for i, e := range got {
		var p struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(e.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Seq != i {
			t.Fatalf("event %d carries seq %d, order broken", i, p.Seq)
		}
	}
}

func TestToConn(t *testing.T) {
	router := rooms.NewRouter()
	lookup := newFakeLookup()
	d := NewDispatcher(router, lookup)

	conn := domain.NewConnID()
	fc := lookup.add(conn)

	if err := d.ToConn(conn, core.EventPong, nil); err != nil {
		t.Fatalf("ToConn: %v", err)
	}
	if got := fc.events(t); len(got) != 1 || got[0].Event != core.EventPong {
		t.Errorf("got %v", got)
	}

	if err := d.ToConn(domain.NewConnID(), core.EventPong, nil); !errors.Is(err, ErrDeliveryFailed) {
		t.Errorf("unknown conn: want ErrDeliveryFailed, got %v", err)
	}
}

func TestLargeRoomFanout(t *testing.T) {
	router := rooms.NewRouter()
	lookup := newFakeLookup()
	d := NewDispatcher(router, lookup)
	room := domain.ChatRoom("general")

	sender := domain.NewConnID()
	lookup.add(sender)
	router.Join(room, sender)
	for i := 0; i < 999; i++ {
		cid := domain.ConnID(fmt.Sprintf("conn-%d", i))
		lookup.add(cid)
		router.Join(room, cid)
	}

	if sent := d.Publish(room, core.EventMessageReceive, nil, sender); sent != 999 {
		t.Errorf("want 999 deliveries with sender excluded, got %d", sent)
	}
}

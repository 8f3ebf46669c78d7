package call

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

const testRingTimeout = 50 * time.Millisecond

func initiateRinging(t *testing.T, m *Manager, from, to domain.UserID) Snapshot {
	t.Helper()
	snap, err := m.Initiate(from, []domain.UserID{to}, domain.CallVideo)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := m.Ring(snap.ID, to); err != nil {
		t.Fatalf("Ring: %v", err)
	}
	return snap
}

func TestInitiateGuards(t *testing.T) {
	m := NewManager(time.Minute)

	if _, err := m.Initiate("alice", nil, domain.CallVideo); !errors.Is(err, ErrInvalidParticipants) {
		t.Errorf("empty targets: want ErrInvalidParticipants, got %v", err)
	}
	if _, err := m.Initiate("alice", []domain.UserID{"alice"}, domain.CallAudio); !errors.Is(err, ErrInvalidParticipants) {
		t.Errorf("self target: want ErrInvalidParticipants, got %v", err)
	}
	if _, err := m.Initiate("alice", []domain.UserID{"bob"}, "carrier-pigeon"); !errors.Is(err, ErrInvalidCallType) {
		t.Errorf("bad type: want ErrInvalidCallType, got %v", err)
	}
}

func TestAcceptLifecycle(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")

	if snap.State != domain.CallCalling {
		t.Fatalf("fresh call state = %s, want calling", snap.State)
	}

	got, err := m.Accept(snap.ID, "bob")
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.State != domain.CallConnected {
		t.Errorf("state after accept = %s, want connected", got.State)
	}
	for _, u := range []domain.UserID{"alice", "bob"} {
		p, ok := got.Participant(u)
		if !ok || p.State != domain.PartJoined {
			t.Errorf("participant %s = %+v, want joined", u, p)
		}
	}
	if got.StartedAt.IsZero() {
		t.Error("startedAt should be set on connect")
	}
}

func TestAcceptRequiresRingingParticipant(t *testing.T) {
	m := NewManager(time.Minute)
	snap, err := m.Initiate("alice", []domain.UserID{"bob"}, domain.CallVideo)
	if err != nil {
		t.Fatal(err)
	}

	// bob's invite was never confirmed delivered
	if _, err := m.Accept(snap.ID, "bob"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("accept from invited: want ErrInvalidTransition, got %v", err)
	}
	if _, err := m.Accept(snap.ID, "mallory"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("accept from outsider: want ErrInvalidTransition, got %v", err)
	}
}

func TestDeclineOneOnOne(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")

	got, err := m.Decline(snap.ID, "bob", "busy")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got.State != domain.CallDeclined {
		t.Errorf("state = %s, want declined", got.State)
	}
	if got.EndReason != "busy" {
		t.Errorf("end reason = %q, want busy", got.EndReason)
	}
	// Retained for a grace window: a late lookup still sees the outcome.
	after, err := m.Get(snap.ID)
	if err != nil {
		t.Fatalf("Get on retained session: %v", err)
	}
	if after.State != domain.CallDeclined {
		t.Errorf("retained state = %s, want declined", after.State)
	}
}

func TestConferenceSurvivesDecline(t *testing.T) {
	m := NewManager(time.Minute)
	snap, err := m.Initiate("alice", []domain.UserID{"bob", "carol"}, domain.CallConference)
	if err != nil {
		t.Fatal(err)
	}
	_ = m.Ring(snap.ID, "bob")
	_ = m.Ring(snap.ID, "carol")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	got, err := m.Decline(snap.ID, "carol", "")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if got.State != domain.CallConnected {
		t.Errorf("conference with joined members = %s, want connected", got.State)
	}
}

func TestEndIdempotent(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	// Both peers hang up concurrently; the session reaches ended once and
	// the loser of the race gets the ended snapshot, never an error.
	var wg sync.WaitGroup
	for _, u := range []domain.UserID{"alice", "bob"} {
		wg.Add(1)
		go func(u domain.UserID) {
			defer wg.Done()
			got, err := m.End(snap.ID, u, ReasonHangup)
			if err != nil {
				t.Errorf("End(%s): %v", u, err)
				return
			}
			if got.State != domain.CallEnded {
				t.Errorf("End(%s) state = %s, want ended", u, got.State)
			}
		}(u)
	}
	wg.Wait()

	if got, err := m.End(snap.ID, "alice", ReasonHangup); err != nil || got.State != domain.CallEnded {
		t.Errorf("end after ended: state=%s err=%v, want ended/nil", got.State, err)
	}
}

func TestSecondHangupIsNoop(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	if _, err := m.End(snap.ID, "alice", ReasonHangup); err != nil {
		t.Fatalf("first End: %v", err)
	}
	got, err := m.End(snap.ID, "bob", ReasonHangup)
	if err != nil {
		t.Fatalf("second End must be a no-op, got %v", err)
	}
	if got.State != domain.CallEnded {
		t.Errorf("second End state = %s, want ended", got.State)
	}
	if got.EndReason != ReasonHangup {
		t.Errorf("end reason = %q, want %q", got.EndReason, ReasonHangup)
	}
}

func TestTerminalSessionExpiresFromTable(t *testing.T) {
	m := NewManager(time.Minute)
	m.retention = 10 * time.Millisecond
	snap := initiateRinging(t, m, "alice", "bob")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.End(snap.ID, "alice", ReasonHangup); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := m.Get(snap.ID); errors.Is(err, ErrCallNotFound) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("terminal session never left the table")
}

func TestRingTimeoutMissed(t *testing.T) {
	m := NewManager(testRingTimeout)
	missed := make(chan Snapshot, 1)
	m.OnMissed(func(s Snapshot) { missed <- s })

	snap := initiateRinging(t, m, "alice", "bob")

	select {
	case got := <-missed:
		if got.State != domain.CallMissed {
			t.Errorf("state = %s, want missed", got.State)
		}
		if got.EndReason != ReasonRingTimeout {
			t.Errorf("end reason = %q, want %q", got.EndReason, ReasonRingTimeout)
		}
		if p, _ := got.Participant("bob"); p.State != domain.PartMissed {
			t.Errorf("pending invite should be cancelled, bob = %s", p.State)
		}
	case <-time.After(time.Second):
		t.Fatal("ring timeout never fired")
	}

	// A late accept must be rejected, not resurrect the session.
	if _, err := m.Accept(snap.ID, "bob"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("accept after missed: want ErrInvalidTransition, got %v", err)
	}
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	m := NewManager(testRingTimeout)
	fired := make(chan Snapshot, 1)
	m.OnMissed(func(s Snapshot) { fired <- s })

	snap := initiateRinging(t, m, "alice", "bob")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Fatal("timeout fired after acceptance")
	case <-time.After(3 * testRingTimeout):
	}

	got, err := m.Get(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.CallConnected {
		t.Errorf("state = %s, want connected", got.State)
	}
}

func TestValidateSignal(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")

	if err := m.ValidateSignal(snap.ID, "alice", "bob"); err != nil {
		t.Errorf("live call relay: %v", err)
	}
	if err := m.ValidateSignal(snap.ID, "alice", "mallory"); !errors.Is(err, ErrStaleSignal) {
		t.Errorf("outsider relay: want ErrStaleSignal, got %v", err)
	}
	if err := m.ValidateSignal("no-such-call", "alice", "bob"); !errors.Is(err, ErrStaleSignal) {
		t.Errorf("unknown call relay: want ErrStaleSignal, got %v", err)
	}

	if _, err := m.End(snap.ID, "alice", ReasonHangup); err != nil {
		t.Fatal(err)
	}
	if err := m.ValidateSignal(snap.ID, "alice", "bob"); !errors.Is(err, ErrStaleSignal) {
		t.Errorf("relay after end: want ErrStaleSignal, got %v", err)
	}
}

func TestToggleMedia(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	muted := true
	got, err := m.ToggleMedia(snap.ID, "bob", MediaUpdate{Muted: &muted})
	if err != nil {
		t.Fatalf("ToggleMedia: %v", err)
	}
	if got.State != domain.CallConnected {
		t.Errorf("media toggle must not transition the session, state = %s", got.State)
	}
	if p, _ := got.Participant("bob"); !p.Media.Muted {
		t.Error("bob should be muted")
	}
	if p, _ := got.Participant("alice"); p.Media.Muted {
		t.Error("alice's media state must be untouched")
	}
}

func TestEndForDisconnectedUser(t *testing.T) {
	m := NewManager(time.Minute)
	snap := initiateRinging(t, m, "alice", "bob")
	if _, err := m.Accept(snap.ID, "bob"); err != nil {
		t.Fatal(err)
	}

	ended := m.EndFor("alice", ReasonPeerDisconnected)
	if len(ended) != 1 {
		t.Fatalf("want one ended call, got %d", len(ended))
	}
	if ended[0].State != domain.CallEnded || ended[0].EndReason != ReasonPeerDisconnected {
		t.Errorf("got %s/%q, want ended/%q", ended[0].State, ended[0].EndReason, ReasonPeerDisconnected)
	}
}

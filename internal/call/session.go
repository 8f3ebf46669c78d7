// Package call owns one state object per call and enforces its transition
// table. All mutations of a single session are serialized by its mutex;
// sessions for different call ids proceed fully in parallel.
package call

import (
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

// End reasons recorded on terminal transitions.
const (
	ReasonHangup           = "hangup"
	ReasonDeclined         = "declined"
	ReasonRingTimeout      = "ring-timeout"
	ReasonUnreachable      = "unreachable"
	ReasonPeerDisconnected = "peer-disconnected"
)

type session struct {
	mu sync.Mutex

	id        domain.CallID
	typ       domain.CallType
	state     domain.CallState
	initiator domain.UserID
	parts     map[domain.UserID]*domain.Participant

	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
	endReason string

	// ringTimer drives the only timer-based transition (→ missed). It is
	// stopped under the session lock on every transition out of
	// calling/ringing so a late timeout can never fire after acceptance.
	ringTimer *time.Timer
}

// Snapshot is an immutable copy handed to callers; the live session never
// escapes the package.
type Snapshot struct {
	ID           domain.CallID        `json:"call_id"`
	Type         domain.CallType      `json:"type"`
	State        domain.CallState     `json:"state"`
	Initiator    domain.UserID        `json:"initiator"`
	Participants []domain.Participant `json:"participants"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    time.Time            `json:"started_at,omitempty"`
	EndedAt      time.Time            `json:"ended_at,omitempty"`
	EndReason    string               `json:"end_reason,omitempty"`
}

// Participant returns the snapshot's entry for the user, zero value if absent.
func (s Snapshot) Participant(user domain.UserID) (domain.Participant, bool) {
	for _, p := range s.Participants {
		if p.User == user {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// snapshot must be called with s.mu held.
func (s *session) snapshot() Snapshot {
	parts := make([]domain.Participant, 0, len(s.parts))
	for _, p := range s.parts {
		parts = append(parts, *p)
	}
	return Snapshot{
		ID:           s.id,
		Type:         s.typ,
		State:        s.state,
		Initiator:    s.initiator,
		Participants: parts,
		CreatedAt:    s.createdAt,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
		EndReason:    s.endReason,
	}
}

// stopRingTimer must be called with s.mu held.
func (s *session) stopRingTimer() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// joinedCount must be called with s.mu held.
func (s *session) joinedCount() int {
	n := 0
	for _, p := range s.parts {
		if p.State == domain.PartJoined {
			n++
		}
	}
	return n
}

// finish moves the session to a terminal state. Must be called with s.mu
// held; idempotent once terminal.
func (s *session) finish(state domain.CallState, reason string) {
	if s.state.Terminal() {
		return
	}
	s.stopRingTimer()
	s.state = state
	s.endReason = reason
	s.endedAt = time.Now()
}

// oneOnOne must be called with s.mu held. A two-party audio/video call
// collapses to a terminal state as soon as either side declines or leaves.
func (s *session) oneOnOne() bool {
	return s.typ != domain.CallConference && len(s.parts) == 2
}

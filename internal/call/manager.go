package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

// terminalRetention keeps ended sessions in the table long enough for the
// slower side of a concurrent hang-up to resolve to the ended snapshot
// instead of ErrCallNotFound.
const terminalRetention = 30 * time.Second

// Manager is the table of live call sessions. Sessions that reach a
// terminal state stay retained for terminalRetention, answering late
// operations as no-ops, and are removed afterwards; anything arriving
// past removal resolves to ErrCallNotFound / ErrStaleSignal.
type Manager struct {
	mu    sync.RWMutex
	calls map[domain.CallID]*session

	ringTimeout time.Duration
	retention   time.Duration
	onMissed    func(Snapshot)
}

func NewManager(ringTimeout time.Duration) *Manager {
	return &Manager{
		calls:       make(map[domain.CallID]*session),
		ringTimeout: ringTimeout,
		retention:   terminalRetention,
	}
}

// OnMissed registers the ring-timeout callback. Wire it before serving
// connections; it runs outside any session lock.
func (m *Manager) OnMissed(fn func(Snapshot)) {
	m.onMissed = fn
}

func (m *Manager) get(id domain.CallID) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.calls[id]
	return s, ok
}

func (m *Manager) remove(id domain.CallID) {
	m.mu.Lock()
	delete(m.calls, id)
	m.mu.Unlock()
}

// retire schedules a terminal session's removal from the table. Until it
// fires, a second end or decline lands on the terminal branch and returns
// the ended snapshot without error.
func (m *Manager) retire(id domain.CallID) {
	time.AfterFunc(m.retention, func() { m.remove(id) })
}

// Initiate creates a session in the calling state with the initiator
// joined and every target invited, and arms the ring timer.
func (m *Manager) Initiate(initiator domain.UserID, targets []domain.UserID, typ domain.CallType) (Snapshot, error) {
	if !typ.Valid() {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrInvalidCallType, typ)
	}
	if len(targets) == 0 {
		return Snapshot{}, fmt.Errorf("%w: no targets", ErrInvalidParticipants)
	}
	parts := map[domain.UserID]*domain.Participant{
		initiator: {User: initiator, State: domain.PartJoined},
	}
	for _, t := range targets {
		if t == initiator {
			return Snapshot{}, fmt.Errorf("%w: initiator cannot call itself", ErrInvalidParticipants)
		}
		parts[t] = &domain.Participant{User: t, State: domain.PartInvited}
	}

	s := &session{
		id:        domain.NewCallID(),
		typ:       typ,
		state:     domain.CallCalling,
		initiator: initiator,
		parts:     parts,
		createdAt: time.Now(),
	}
	s.ringTimer = time.AfterFunc(m.ringTimeout, func() { m.timeout(s.id) })

	m.mu.Lock()
	m.calls[s.id] = s
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("call", string(s.id)).Str("type", string(typ)).
		Str("initiator", string(initiator)).Int("targets", len(targets)).Msg("initiated")

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Ring confirms the target's connection received the invite, moving the
// participant invited→ringing and the session calling→ringing.
func (m *Manager) Ring(id domain.CallID, target domain.UserID) error {
	s, ok := m.get(id)
	if !ok {
		return ErrCallNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.CallCalling && s.state != domain.CallRinging {
		return fmt.Errorf("%w: ring in state %s", ErrInvalidTransition, s.state)
	}
	p, ok := s.parts[target]
	if !ok {
		return fmt.Errorf("%w: %s is not invited", ErrInvalidTransition, target)
	}
	if p.State == domain.PartRinging {
		return nil
	}
	if p.State != domain.PartInvited {
		return fmt.Errorf("%w: ring participant in state %s", ErrInvalidTransition, p.State)
	}
	p.State = domain.PartRinging
	s.state = domain.CallRinging
	return nil
}

// Accept joins a ringing participant and connects the session. The ring
// timer is cancelled under the same lock, so a late timeout cannot fire
// after acceptance.
func (m *Manager) Accept(id domain.CallID, user domain.UserID) (Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return Snapshot{}, ErrCallNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.CallCalling && s.state != domain.CallRinging && s.state != domain.CallConnected {
		return Snapshot{}, fmt.Errorf("%w: accept in state %s", ErrInvalidTransition, s.state)
	}
	p, ok := s.parts[user]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s is not a participant", ErrInvalidTransition, user)
	}
	if p.State != domain.PartRinging {
		return Snapshot{}, fmt.Errorf("%w: accept from participant state %s", ErrInvalidTransition, p.State)
	}
	p.State = domain.PartJoined
	s.state = domain.CallConnected
	if s.startedAt.IsZero() {
		s.startedAt = time.Now()
	}
	s.stopRingTimer()
	log.Info().Str("module", "call").Str("call", string(id)).Str("user", string(user)).Msg("accepted")
	return s.snapshot(), nil
}

// Decline moves the participant to a terminal sub-state. A declined 1:1
// call is over; a conference survives while anyone remains joined.
func (m *Manager) Decline(id domain.CallID, user domain.UserID, reason string) (Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return Snapshot{}, ErrCallNotFound
	}
	s.mu.Lock()
	if s.state.Terminal() {
		snap := s.snapshot()
		s.mu.Unlock()
		return snap, nil
	}
	p, ok := s.parts[user]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s is not a participant", ErrInvalidTransition, user)
	}
	if !p.State.Active() || p.State == domain.PartJoined {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: decline from participant state %s", ErrInvalidTransition, p.State)
	}
	p.State = domain.PartDeclined
	if reason == "" {
		reason = ReasonDeclined
	}
	if s.oneOnOne() {
		s.finish(domain.CallDeclined, reason)
	} else if s.joinedCount() == 0 && !s.anyPendingLocked() {
		s.finish(domain.CallDeclined, reason)
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if snap.State.Terminal() {
		m.retire(id)
	}
	log.Info().Str("module", "call").Str("call", string(id)).Str("user", string(user)).Str("reason", reason).Msg("declined")
	return snap, nil
}

// anyPendingLocked reports whether any invite is still outstanding.
func (s *session) anyPendingLocked() bool {
	for _, p := range s.parts {
		if p.State == domain.PartInvited || p.State == domain.PartRinging {
			return true
		}
	}
	return false
}

// End removes the user from the joined set. When nobody remains joined the
// session ends with the given reason. Idempotent: ending an already-ended
// call is a no-op, not an error.
func (m *Manager) End(id domain.CallID, user domain.UserID, reason string) (Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return Snapshot{}, ErrCallNotFound
	}
	s.mu.Lock()
	if s.state.Terminal() {
		snap := s.snapshot()
		s.mu.Unlock()
		return snap, nil
	}
	p, ok := s.parts[user]
	if !ok {
		s.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: %s is not a participant", ErrInvalidTransition, user)
	}
	if p.State.Active() {
		p.State = domain.PartLeft
	}
	if reason == "" {
		reason = ReasonHangup
	}
	// A two-party call is over as soon as either side hangs up; a
	// conference lives while anyone remains joined.
	if s.oneOnOne() || s.joinedCount() == 0 {
		s.finish(domain.CallEnded, reason)
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if snap.State.Terminal() {
		m.retire(id)
	}
	log.Info().Str("module", "call").Str("call", string(id)).Str("user", string(user)).
		Str("state", string(snap.State)).Msg("end")
	return snap, nil
}

// timeout is the ring timer firing: nobody joined within the ring window,
// the session is missed and every pending invite is cancelled.
func (m *Manager) timeout(id domain.CallID) {
	s, ok := m.get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	if s.state != domain.CallCalling && s.state != domain.CallRinging {
		s.mu.Unlock()
		return
	}
	for _, p := range s.parts {
		if p.State == domain.PartInvited || p.State == domain.PartRinging {
			p.State = domain.PartMissed
		}
	}
	s.finish(domain.CallMissed, ReasonRingTimeout)
	snap := s.snapshot()
	s.mu.Unlock()

	m.retire(id)
	log.Info().Str("module", "call").Str("call", string(id)).Msg("ring timeout, missed")
	if m.onMissed != nil {
		m.onMissed(snap)
	}
}

// MarkUnreachable fails a fresh call whose invite reached nobody.
func (m *Manager) MarkUnreachable(id domain.CallID) (Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return Snapshot{}, ErrCallNotFound
	}
	s.mu.Lock()
	if s.state.Terminal() {
		snap := s.snapshot()
		s.mu.Unlock()
		return snap, nil
	}
	for _, p := range s.parts {
		if p.State == domain.PartInvited || p.State == domain.PartRinging {
			p.State = domain.PartMissed
		}
	}
	s.finish(domain.CallFailed, ReasonUnreachable)
	snap := s.snapshot()
	s.mu.Unlock()

	m.retire(id)
	log.Info().Str("module", "call").Str("call", string(id)).Msg("unreachable, failed")
	return snap, nil
}

// ValidateSignal checks that a relay is still meaningful: the session is
// live and both ends are active participants. Anything else is a stale
// signal; an ICE candidate arriving after call end must not resurrect it.
func (m *Manager) ValidateSignal(id domain.CallID, from, to domain.UserID) error {
	s, ok := m.get(id)
	if !ok {
		return fmt.Errorf("%w: %v", ErrStaleSignal, ErrCallNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: call %s", ErrStaleSignal, s.state)
	}
	for _, u := range []domain.UserID{from, to} {
		p, ok := s.parts[u]
		if !ok || !p.State.Active() {
			return fmt.Errorf("%w: %s is not an active participant", ErrStaleSignal, u)
		}
	}
	return nil
}

// MediaUpdate carries the optional per-participant media flags; nil fields
// stay untouched.
type MediaUpdate struct {
	Muted         *bool
	VideoOff      *bool
	ScreenSharing *bool
}

// ToggleMedia updates a joined participant's media flags. Pure sub-state;
// no session transition.
func (m *Manager) ToggleMedia(id domain.CallID, user domain.UserID, upd MediaUpdate) (Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return Snapshot{}, ErrCallNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return Snapshot{}, fmt.Errorf("%w: media toggle on %s call", ErrInvalidTransition, s.state)
	}
	p, ok := s.parts[user]
	if !ok || p.State != domain.PartJoined {
		return Snapshot{}, fmt.Errorf("%w: %s is not joined", ErrInvalidTransition, user)
	}
	if upd.Muted != nil {
		p.Media.Muted = *upd.Muted
	}
	if upd.VideoOff != nil {
		p.Media.VideoOff = *upd.VideoOff
	}
	if upd.ScreenSharing != nil {
		p.Media.ScreenSharing = *upd.ScreenSharing
	}
	return s.snapshot(), nil
}

// CallsJoinedBy lists live calls where the user is currently joined.
func (m *Manager) CallsJoinedBy(user domain.UserID) []domain.CallID {
	m.mu.RLock()
	ids := make([]domain.CallID, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := ids[:0]
	for _, id := range ids {
		s, ok := m.get(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if p, ok := s.parts[user]; ok && p.State == domain.PartJoined && !s.state.Terminal() {
			out = append(out, id)
		}
		s.mu.Unlock()
	}
	return out
}

// EndFor ends the user's participation in every call it is joined to and
// returns the snapshots of the sessions that reached a terminal state.
// Used by the disconnect cleanup path.
func (m *Manager) EndFor(user domain.UserID, reason string) []Snapshot {
	var ended []Snapshot
	for _, id := range m.CallsJoinedBy(user) {
		snap, err := m.End(id, user, reason)
		if err != nil {
			continue
		}
		if snap.State.Terminal() {
			ended = append(ended, snap)
		}
	}
	return ended
}

// Get exposes a read-only snapshot, mainly for tests and introspection.
func (m *Manager) Get(id domain.CallID) (Snapshot, error) {
	s, ok := m.get(id)
	if !ok {
		return Snapshot{}, ErrCallNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

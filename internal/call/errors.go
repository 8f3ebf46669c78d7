package call

import "errors"

var (
	// ErrCallNotFound: the call id references no live session.
	ErrCallNotFound = errors.New("call not found")
	// ErrInvalidTransition: the operation is not legal from the session's
	// or the participant's current state.
	ErrInvalidTransition = errors.New("invalid call transition")
	// ErrInvalidParticipants: empty target set, or the initiator listed
	// itself as a target.
	ErrInvalidParticipants = errors.New("invalid participants")
	// ErrInvalidCallType: unknown call type on initiate.
	ErrInvalidCallType = errors.New("invalid call type")
	// ErrStaleSignal: a relay attempt against an ended/unknown call or a
	// non-participant. Expected under normal races; dropped, not reported.
	ErrStaleSignal = errors.New("stale signal")
)

package domain

import "github.com/google/uuid"

type CallID string

func NewCallID() CallID { return CallID(uuid.NewString()) }

type CallType string

const (
	CallAudio      CallType = "audio"
	CallVideo      CallType = "video"
	CallConference CallType = "conference"
)

func (t CallType) Valid() bool {
	switch t {
	case CallAudio, CallVideo, CallConference:
		return true
	}
	return false
}

type CallState string

const (
	CallCalling   CallState = "calling"
	CallRinging   CallState = "ringing"
	CallConnected CallState = "connected"
	CallEnded     CallState = "ended"
	CallDeclined  CallState = "declined"
	CallMissed    CallState = "missed"
	CallFailed    CallState = "failed"
)

// Terminal states never transition to anything else.
func (s CallState) Terminal() bool {
	switch s {
	case CallEnded, CallDeclined, CallMissed, CallFailed:
		return true
	}
	return false
}

type PartState string

const (
	PartInvited  PartState = "invited"
	PartRinging  PartState = "ringing"
	PartJoined   PartState = "joined"
	PartLeft     PartState = "left"
	PartDeclined PartState = "declined"
	PartMissed   PartState = "missed"
)

// Active reports whether the participant still counts as part of the call.
func (s PartState) Active() bool {
	switch s {
	case PartInvited, PartRinging, PartJoined:
		return true
	}
	return false
}

type MediaState struct {
	Muted         bool `json:"muted"`
	VideoOff      bool `json:"video_off"`
	ScreenSharing bool `json:"screen_sharing"`
}

type Participant struct {
	User  UserID     `json:"user"`
	State PartState  `json:"state"`
	Media MediaState `json:"media"`
}

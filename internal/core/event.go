package core

import (
	"encoding/json"
	"fmt"
)

// Event is the wire envelope. Data stays raw until a handler that knows
// the event's payload shape decodes it.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound client→hub and outbound hub→client event names.
const (
	EventCallInitiate = "call:initiate"
	EventCallRinging  = "call:ringing"
	EventCallAccept   = "call:accept"
	EventCallDecline  = "call:decline"
	EventCallEnd      = "call:end"

	EventCallState    = "call:state"
	EventCallAccepted = "call:accepted"
	EventCallDeclined = "call:declined"
	EventCallEnded    = "call:ended"
	EventCallMissed   = "call:missed"
	EventCallFailed   = "call:failed"
	EventCallLeft     = "call:left"
	EventCallMedia    = "call:media"

	EventWebRTCOffer  = "webrtc:offer"
	EventWebRTCAnswer = "webrtc:answer"
	EventWebRTCICE    = "webrtc:ice-candidate"

	EventScreenShareStart = "screen:share:start"
	EventScreenShareStop  = "screen:share:stop"

	EventChatJoin       = "chat:join"
	EventChatLeave      = "chat:leave"
	EventMessageSend    = "message:send"
	EventMessageReceive = "message:receive"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"

	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"

	EventPing  = "ping"
	EventPong  = "pong"
	EventError = "error"
)

// EncodeEvent marshals a payload into a wire frame once, so fan-out does
// not re-serialize per recipient.
func EncodeEvent(event string, payload any) (Frame, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		data = b
	}
	b, err := json.Marshal(Event{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return Frame(b), nil
}

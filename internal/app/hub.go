// Package app wires the presence registry, room router, call manager and
// dispatcher together behind one Hub. The Hub is the gatekeeper for new
// connections and the cleanup handler for closed ones; the transport
// adapter calls into it and never touches the components directly.
package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/call"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/dispatch"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/presence"
	"github.com/dkeye/huddle/internal/rooms"
)

// MessageSink is the durable store collaborator. The hub hands every chat
// message over and moves on; persistence failures never block fan-out.
type MessageSink interface {
	StoreMessage(ctx context.Context, msg ChatMessage) error
}

type ChatMessage struct {
	ChatID  string        `json:"chat_id"`
	From    domain.UserID `json:"from"`
	Content string        `json:"content"`
	Type    string        `json:"type"`
	SentAt  time.Time     `json:"sent_at"`
}

type PresencePayload struct {
	UserID    domain.UserID `json:"user_id"`
	Timestamp time.Time     `json:"timestamp"`
}

type CallInvitePayload struct {
	CallID domain.CallID   `json:"call_id"`
	From   domain.UserID   `json:"from"`
	Type   domain.CallType `json:"type"`
}

type CallEventPayload struct {
	CallID domain.CallID `json:"call_id"`
	User   domain.UserID `json:"user,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

type MediaPayload struct {
	CallID domain.CallID     `json:"call_id"`
	User   domain.UserID     `json:"user"`
	Media  domain.MediaState `json:"media"`
}

type Hub struct {
	Conns    *Registry
	Presence *presence.Registry
	Rooms    *rooms.Router
	Calls    *call.Manager
	Out      *dispatch.Dispatcher
	Sink     MessageSink
}

// NewHub assembles the hub and hooks itself up as the presence notifier
// and the ring-timeout callback.
func NewHub(conns *Registry, pres *presence.Registry, router *rooms.Router, calls *call.Manager, sink MessageSink) *Hub {
	h := &Hub{
		Conns:    conns,
		Presence: pres,
		Rooms:    router,
		Calls:    calls,
		Out:      dispatch.NewDispatcher(router, conns),
		Sink:     sink,
	}
	pres.SetNotifier(h)
	calls.OnMissed(h.onRingTimeout)
	h.Out.OnEvict(h.dropUnresponsive)
	return h
}

// dropUnresponsive cancels a connection whose send queue stopped
// draining. The cancel closes the transport, the read pump unblocks with
// an error, and the normal disconnect cleanup runs.
func (h *Hub) dropUnresponsive(conn domain.ConnID) {
	log.Warn().Str("module", "app.hub").Str("conn", string(conn)).Msg("dropping unresponsive connection")
	h.Conns.Cancel(conn)
}

// UserOnline and UserOffline implement presence.Notifier. The default
// recipients are the user's own room so every device of the user stays in
// sync; a friend-graph collaborator replaces the notifier to widen the
// audience.
func (h *Hub) UserOnline(user domain.UserID, at time.Time) {
	h.Out.ToUser(user, core.EventUserOnline, PresencePayload{UserID: user, Timestamp: at})
}

func (h *Hub) UserOffline(user domain.UserID, at time.Time) {
	h.Out.ToUser(user, core.EventUserOffline, PresencePayload{UserID: user, Timestamp: at})
}

// Connect admits an authenticated connection: bind it, mark presence, and
// auto-join the user's personal room. A presence store failure unwinds the
// bind and refuses the connection.
func (h *Hub) Connect(ctx context.Context, user domain.UserID, conn domain.ConnID, sig core.SignalConnection, cancel context.CancelFunc) error {
	h.Conns.Bind(conn, user, sig, cancel)
	if err := h.Presence.MarkOnline(ctx, user, conn); err != nil {
		h.Conns.Unbind(conn)
		return err
	}
	h.Rooms.Join(domain.UserRoom(user), conn)
	return nil
}

// Disconnect unwinds everything the connection touched: ends calls the
// user was joined to, leaves all rooms, updates presence, unbinds. Safe
// against reconnect races because presence is keyed per connection id.
func (h *Hub) Disconnect(ctx context.Context, conn domain.ConnID) {
	user, ok := h.Conns.UserOf(conn)
	if !ok {
		return
	}
	for _, snap := range h.Calls.EndFor(user, call.ReasonPeerDisconnected) {
		h.finishCall(snap)
	}
	left := h.Rooms.LeaveAll(conn)
	if err := h.Presence.MarkOffline(ctx, user, conn); err != nil {
		// Presence may now be stale until the store recovers; surfaced, not
		// swallowed.
		log.Error().Err(err).Str("module", "app.hub").Str("user", string(user)).Msg("mark offline failed")
	}
	h.Conns.Unbind(conn)
	log.Info().Str("module", "app.hub").Str("conn", string(conn)).Str("user", string(user)).
		Int("rooms_left", len(left)).Msg("disconnected")
}

// finishCall announces a terminal session to its room and tears the room
// down.
func (h *Hub) finishCall(snap call.Snapshot) {
	event := core.EventCallEnded
	switch snap.State {
	case domain.CallMissed:
		event = core.EventCallMissed
	case domain.CallDeclined:
		event = core.EventCallDeclined
	case domain.CallFailed:
		event = core.EventCallFailed
	}
	room := domain.CallRoom(snap.ID)
	h.Out.Publish(room, event, CallEventPayload{CallID: snap.ID, Reason: snap.EndReason})
	h.Rooms.Drop(room)
}

func (h *Hub) onRingTimeout(snap call.Snapshot) {
	// Pending targets never joined the call room; tell them through their
	// personal rooms that the invite is void.
	for _, p := range snap.Participants {
		if p.State == domain.PartMissed {
			h.Out.ToUser(p.User, core.EventCallMissed, CallEventPayload{CallID: snap.ID, Reason: snap.EndReason})
		}
	}
	h.finishCall(snap)
}

// InitiateCall creates the session, joins the caller's connections to the
// call room, and delivers the invite to every target's personal room.
// Targets whose invite landed are moved to ringing; if nobody could be
// reached the call fails immediately.
func (h *Hub) InitiateCall(from domain.UserID, targets []domain.UserID, typ domain.CallType) (call.Snapshot, error) {
	snap, err := h.Calls.Initiate(from, targets, typ)
	if err != nil {
		return call.Snapshot{}, err
	}
	room := domain.CallRoom(snap.ID)
	for _, cid := range h.Conns.ConnsOf(from) {
		h.Rooms.Join(room, cid)
	}
	reached := 0
	invite := CallInvitePayload{CallID: snap.ID, From: from, Type: typ}
	for _, t := range targets {
		if h.Out.ToUser(t, core.EventCallRinging, invite) == 0 {
			continue
		}
		if err := h.Calls.Ring(snap.ID, t); err == nil {
			reached++
		}
	}
	if reached == 0 {
		failed, err := h.Calls.MarkUnreachable(snap.ID)
		if err != nil {
			return call.Snapshot{}, err
		}
		h.Rooms.Drop(room)
		return failed, nil
	}
	return h.Calls.Get(snap.ID)
}

// AcceptCall connects the session and subscribes the accepting connection
// to the call room.
func (h *Hub) AcceptCall(user domain.UserID, conn domain.ConnID, id domain.CallID) (call.Snapshot, error) {
	snap, err := h.Calls.Accept(id, user)
	if err != nil {
		return call.Snapshot{}, err
	}
	room := domain.CallRoom(id)
	h.Rooms.Join(room, conn)
	h.Out.Publish(room, core.EventCallAccepted, CallEventPayload{CallID: id, User: user}, conn)
	return snap, nil
}

func (h *Hub) DeclineCall(user domain.UserID, id domain.CallID, reason string) (call.Snapshot, error) {
	snap, err := h.Calls.Decline(id, user, reason)
	if err != nil {
		return call.Snapshot{}, err
	}
	if snap.State.Terminal() {
		h.finishCall(snap)
		return snap, nil
	}
	h.Out.Publish(domain.CallRoom(id), core.EventCallDeclined, CallEventPayload{CallID: id, User: user, Reason: reason})
	return snap, nil
}

// EndCall is idempotent; concurrent hang-ups converge on one ended state.
func (h *Hub) EndCall(user domain.UserID, id domain.CallID) (call.Snapshot, error) {
	snap, err := h.Calls.End(id, user, call.ReasonHangup)
	if err != nil {
		return call.Snapshot{}, err
	}
	room := domain.CallRoom(id)
	if snap.State.Terminal() {
		h.finishCall(snap)
		return snap, nil
	}
	// Conference: the caller left but the session lives on.
	for _, cid := range h.Conns.ConnsOf(user) {
		h.Rooms.Leave(room, cid)
	}
	h.Out.Publish(room, core.EventCallLeft, CallEventPayload{CallID: id, User: user})
	return snap, nil
}

// RelaySignal forwards an offer/answer/candidate envelope to the target
// user after checking both ends are live participants. Stale signals are
// dropped here with a debug log, never reported.
func (h *Hub) RelaySignal(id domain.CallID, from, to domain.UserID, event string, payload any) error {
	if err := h.Calls.ValidateSignal(id, from, to); err != nil {
		log.Debug().Err(err).Str("module", "app.hub").Str("call", string(id)).
			Str("from", string(from)).Str("to", string(to)).Str("event", event).Msg("signal dropped")
		return err
	}
	h.Out.ToUser(to, event, payload)
	return nil
}

// SetMedia updates mute/camera flags and fans the new media state out to
// the other call participants.
func (h *Hub) SetMedia(user domain.UserID, conn domain.ConnID, id domain.CallID, upd call.MediaUpdate) (call.Snapshot, error) {
	snap, err := h.Calls.ToggleMedia(id, user, upd)
	if err != nil {
		return call.Snapshot{}, err
	}
	p, _ := snap.Participant(user)
	h.Out.Publish(domain.CallRoom(id), core.EventCallMedia, MediaPayload{CallID: id, User: user, Media: p.Media}, conn)
	return snap, nil
}

// ScreenShare toggles the sharing flag and announces it to the call room.
func (h *Hub) ScreenShare(user domain.UserID, conn domain.ConnID, id domain.CallID, on bool) error {
	if _, err := h.Calls.ToggleMedia(id, user, call.MediaUpdate{ScreenSharing: &on}); err != nil {
		return err
	}
	event := core.EventScreenShareStart
	if !on {
		event = core.EventScreenShareStop
	}
	h.Out.Publish(domain.CallRoom(id), event, CallEventPayload{CallID: id, User: user}, conn)
	return nil
}

// JoinChat subscribes the connection to a chat's broadcast room.
func (h *Hub) JoinChat(chatID string, conn domain.ConnID) {
	h.Rooms.Join(domain.ChatRoom(chatID), conn)
}

func (h *Hub) LeaveChat(chatID string, conn domain.ConnID) {
	h.Rooms.Leave(domain.ChatRoom(chatID), conn)
}

// SendMessage fans a chat message out to the room, sender excluded, and
// hands a copy to the durable store collaborator.
func (h *Hub) SendMessage(ctx context.Context, from domain.UserID, conn domain.ConnID, chatID, content, msgType string) int {
	msg := ChatMessage{ChatID: chatID, From: from, Content: content, Type: msgType, SentAt: time.Now()}
	if h.Sink != nil {
		if err := h.Sink.StoreMessage(ctx, msg); err != nil {
			log.Error().Err(err).Str("module", "app.hub").Str("chat", chatID).Msg("message sink failed")
		}
	}
	return h.Out.Publish(domain.ChatRoom(chatID), core.EventMessageReceive, msg, conn)
}

// Typing fans an ephemeral typing indicator out; nothing is retained, the
// client UI times its own indicators out.
func (h *Hub) Typing(from domain.UserID, conn domain.ConnID, chatID string, on bool) {
	event := core.EventTypingStart
	if !on {
		event = core.EventTypingStop
	}
	h.Out.Publish(domain.ChatRoom(chatID), event, struct {
		ChatID string        `json:"chat_id"`
		From   domain.UserID `json:"from"`
	}{chatID, from}, conn)
}

// OnlineFriends answers a batch presence query for contact-list views.
func (h *Hub) OnlineFriends(ctx context.Context, users []domain.UserID) ([]domain.UserID, error) {
	return h.Presence.ListOnline(ctx, users)
}

// LastSeen reports the user's latest connect or disconnect time, zero if
// the user was never seen.
func (h *Hub) LastSeen(ctx context.Context, user domain.UserID) (time.Time, error) {
	return h.Presence.LastSeen(ctx, user)
}

package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/call"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

func (ctl *Controller) handleCallInitiate(user domain.UserID, c *wsConn, data []byte) {
	var p struct {
		TargetUserIDs []string `json:"target_user_ids" validate:"required,min=1,dive,required"`
		Type          string   `json:"type" validate:"required,oneof=audio video conference"`
	}
	if err := decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad initiate payload")
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	targets := make([]domain.UserID, 0, len(p.TargetUserIDs))
	for _, t := range p.TargetUserIDs {
		targets = append(targets, domain.UserID(t))
	}
	snap, err := ctl.hub.InitiateCall(user, targets, domain.CallType(p.Type))
	if err != nil {
		ctl.reportErr(c, err)
		return
	}
	// The initiator learns the call id and whether anyone is reachable
	// from this snapshot.
	ctl.sendEvent(c, core.EventCallState, snap)
}

func (ctl *Controller) handleCallAccept(user domain.UserID, conn domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		CallID string `json:"call_id" validate:"required"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	snap, err := ctl.hub.AcceptCall(user, conn, domain.CallID(p.CallID))
	if err != nil {
		ctl.reportErr(c, err)
		return
	}
	ctl.sendEvent(c, core.EventCallState, snap)
}

func (ctl *Controller) handleCallDecline(user domain.UserID, c *wsConn, data []byte) {
	var p struct {
		CallID string `json:"call_id" validate:"required"`
		Reason string `json:"reason"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	if _, err := ctl.hub.DeclineCall(user, domain.CallID(p.CallID), p.Reason); err != nil {
		ctl.reportErr(c, err)
	}
}

func (ctl *Controller) handleCallEnd(user domain.UserID, c *wsConn, data []byte) {
	var p struct {
		CallID string `json:"call_id" validate:"required"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	if _, err := ctl.hub.EndCall(user, domain.CallID(p.CallID)); err != nil {
		// Hanging up a call that is already gone is a no-op, not an error.
		if errors.Is(err, call.ErrCallNotFound) {
			log.Debug().Str("module", "signal").Str("call", p.CallID).Msg("end for unknown call dropped")
			return
		}
		ctl.reportErr(c, err)
	}
}

func (ctl *Controller) handleCallMedia(user domain.UserID, conn domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		CallID   string `json:"call_id" validate:"required"`
		Muted    *bool  `json:"muted"`
		VideoOff *bool  `json:"video_off"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	upd := call.MediaUpdate{Muted: p.Muted, VideoOff: p.VideoOff}
	if _, err := ctl.hub.SetMedia(user, conn, domain.CallID(p.CallID), upd); err != nil {
		ctl.reportErr(c, err)
	}
}

func (ctl *Controller) handleScreenShare(user domain.UserID, conn domain.ConnID, c *wsConn, data []byte, on bool) {
	var p struct {
		CallID string `json:"call_id" validate:"required"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	if err := ctl.hub.ScreenShare(user, conn, domain.CallID(p.CallID), on); err != nil {
		ctl.reportErr(c, err)
	}
}

package signal

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// sdpPayload is the offer/answer envelope. The hub relays the SDP
// verbatim between participants; media itself flows peer to peer.
type sdpPayload struct {
	CallID string                    `json:"call_id" validate:"required"`
	To     string                    `json:"to" validate:"required"`
	From   string                    `json:"from,omitempty"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

type icePayload struct {
	CallID    string                  `json:"call_id" validate:"required"`
	To        string                  `json:"to" validate:"required"`
	From      string                  `json:"from,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (ctl *Controller) handleSDP(user domain.UserID, c *wsConn, event string, data []byte) {
	var p sdpPayload
	if err := decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("event", event).Msg("bad sdp payload")
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	p.From = string(user)
	if err := ctl.hub.RelaySignal(domain.CallID(p.CallID), user, domain.UserID(p.To), event, p); err != nil {
		ctl.reportErr(c, err)
	}
}

func (ctl *Controller) handleICE(user domain.UserID, c *wsConn, data []byte) {
	var p icePayload
	if err := decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	p.From = string(user)
	if err := ctl.hub.RelaySignal(domain.CallID(p.CallID), user, domain.UserID(p.To), core.EventWebRTCICE, p); err != nil {
		ctl.reportErr(c, err)
	}
}

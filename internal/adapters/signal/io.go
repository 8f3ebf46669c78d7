package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.cfg.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, user domain.UserID, conn domain.ConnID, c *wsConn) {
	defer log.Info().Str("module", "signal").Str("conn", string(conn)).Msg("readPump closing")
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("conn", string(conn)).Msg("readPump read error")
				return
			}
			ctl.handleEvent(ctx, user, conn, c, data)
		}
	}
}

// handleEvent is the single inbound dispatch point: every wire event
// becomes one typed hub call.
func (ctl *Controller) handleEvent(ctx context.Context, user domain.UserID, conn domain.ConnID, c *wsConn, data []byte) {
	var env core.Event
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_payload", "malformed envelope")
		return
	}

	switch env.Event {
	case core.EventPing:
		ctl.handlePing(c)
	case core.EventCallInitiate:
		ctl.handleCallInitiate(user, c, env.Data)
	case core.EventCallAccept:
		ctl.handleCallAccept(user, conn, c, env.Data)
	case core.EventCallDecline:
		ctl.handleCallDecline(user, c, env.Data)
	case core.EventCallEnd:
		ctl.handleCallEnd(user, c, env.Data)
	case core.EventCallMedia:
		ctl.handleCallMedia(user, conn, c, env.Data)
	case core.EventScreenShareStart:
		ctl.handleScreenShare(user, conn, c, env.Data, true)
	case core.EventScreenShareStop:
		ctl.handleScreenShare(user, conn, c, env.Data, false)
	case core.EventWebRTCOffer, core.EventWebRTCAnswer:
		ctl.handleSDP(user, c, env.Event, env.Data)
	case core.EventWebRTCICE:
		ctl.handleICE(user, c, env.Data)
	case core.EventChatJoin:
		ctl.handleChatJoin(conn, c, env.Data)
	case core.EventChatLeave:
		ctl.handleChatLeave(conn, c, env.Data)
	case core.EventMessageSend:
		ctl.handleMessageSend(ctx, user, conn, c, env.Data)
	case core.EventTypingStart:
		ctl.handleTyping(user, conn, c, env.Data, true)
	case core.EventTypingStop:
		ctl.handleTyping(user, conn, c, env.Data, false)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown event")
		ctl.sendError(c, "unknown_event", env.Event)
	}
}

// decode unmarshals and validates an inbound payload.
func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/domain"
)

func (ctl *Controller) handleChatJoin(conn domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		ChatID string `json:"chat_id" validate:"required"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	ctl.hub.JoinChat(p.ChatID, conn)
}

func (ctl *Controller) handleChatLeave(conn domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		ChatID string `json:"chat_id" validate:"required"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	ctl.hub.LeaveChat(p.ChatID, conn)
}

func (ctl *Controller) handleMessageSend(ctx context.Context, user domain.UserID, conn domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		ChatID  string `json:"chat_id" validate:"required"`
		Content string `json:"content" validate:"required"`
		Type    string `json:"type"`
	}
	if err := decode(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	if p.Type == "" {
		p.Type = "text"
	}
	ctl.hub.SendMessage(ctx, user, conn, p.ChatID, p.Content, p.Type)
}

func (ctl *Controller) handleTyping(user domain.UserID, conn domain.ConnID, c *wsConn, data []byte, on bool) {
	var p struct {
		ChatID string `json:"chat_id" validate:"required"`
	}
	if err := decode(data, &p); err != nil {
		ctl.sendError(c, "bad_payload", err.Error())
		return
	}
	ctl.hub.Typing(user, conn, p.ChatID, on)
}

// Package signal is the WebSocket adapter: it upgrades authenticated
// connections, pumps frames, and translates wire events into hub calls.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/call"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
	"github.com/dkeye/huddle/internal/presence"
)

var ErrBackpressure = errors.New("backpressure")

var validate = validator.New()

type Controller struct {
	hub *app.Hub
	cfg *config.Config
}

func NewController(hub *app.Hub, cfg *config.Config) *Controller {
	return &Controller{hub: hub, cfg: cfg}
}

// wsConn wraps one websocket with a buffered FIFO send queue. Events
// queued from the same publisher reach the peer in queue order.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConn serves one connection end to end: upgrade, admit through the
// hub, pump until the transport closes, then unwind.
func (ctl *Controller) HandleConn(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString("user_id"))
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	connID := domain.NewConnID()
	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	connCtx, cancel := context.WithCancel(ctx)
	// Registered as the connection's teardown: closing the websocket is
	// what unblocks a read pump parked in ReadMessage.
	teardown := func() {
		cancel()
		conn.Close()
	}

	if err := ctl.hub.Connect(connCtx, user, connID, conn, teardown); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("admission failed")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		cancel()
		conn.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("user", string(user)).Msg("new WS connection")

	go ctl.writePump(connCtx, conn)
	ctl.readPump(connCtx, user, connID, conn)

	cancel()
	ctl.hub.Disconnect(context.Background(), connID)
	conn.Close()
}

func (ctl *Controller) sendEvent(c *wsConn, event string, payload any) {
	frame, err := core.EncodeEvent(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("encode")
		return
	}
	_ = c.TrySend(frame)
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ctl *Controller) sendError(c *wsConn, code, message string) {
	ctl.sendEvent(c, core.EventError, errorPayload{Code: code, Message: message})
}

// reportErr maps a hub error to a wire error event for the offending
// connection only. Stale signals are dropped at debug and never reported.
func (ctl *Controller) reportErr(c *wsConn, err error) {
	switch {
	case errors.Is(err, call.ErrStaleSignal):
		log.Debug().Err(err).Str("module", "signal").Msg("stale signal dropped")
	case errors.Is(err, call.ErrCallNotFound):
		ctl.sendError(c, "call_not_found", err.Error())
	case errors.Is(err, call.ErrInvalidParticipants):
		ctl.sendError(c, "invalid_participants", err.Error())
	case errors.Is(err, call.ErrInvalidCallType):
		ctl.sendError(c, "invalid_call_type", err.Error())
	case errors.Is(err, call.ErrInvalidTransition):
		ctl.sendError(c, "invalid_transition", err.Error())
	case errors.Is(err, presence.ErrStoreUnavailable):
		ctl.sendError(c, "unavailable", "try again later")
	default:
		log.Error().Err(err).Str("module", "signal").Msg("handler error")
		ctl.sendError(c, "internal", "internal error")
	}
}

package signal

import "github.com/dkeye/huddle/internal/core"

func (ctl *Controller) handlePing(c *wsConn) {
	ctl.sendEvent(c, core.EventPong, nil)
}

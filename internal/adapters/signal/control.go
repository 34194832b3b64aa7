package signal

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Slicer/internal/protocol"
)

// closeCode maps a fatal error to the websocket close status sent to the
// peer.
func closeCode(reason error) int {
	switch {
	case reason == nil:
		return websocket.CloseNormalClosure
	case errors.Is(reason, protocol.ErrMalformed):
		return websocket.CloseUnsupportedData
	default:
		return websocket.ClosePolicyViolation
	}
}

// pongWait is how long the read side waits for any frame before giving up
// on the peer. Pings go out every pingPeriod, so it must exceed it.
func pongWait(pingPeriod time.Duration) time.Duration {
	return pingPeriod * 10 / 9
}

func (ctl *StreamWSController) keepAlive(c *WsSignalConn) {
	if ctl.opts.PingPeriod <= 0 {
		return
	}
	wait := pongWait(ctl.opts.PingPeriod)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
}

func (ctl *StreamWSController) ping(c *WsSignalConn) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

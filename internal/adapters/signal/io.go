package signal

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/app"
	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/protocol"
)

func (ctl *StreamWSController) writePump(c *WsSignalConn) {
	var tick <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case out := <-c.send:
			err := ctl.write(c, out)
			if out.result != nil {
				out.result <- err
			}
			if err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-tick:
			if err := ctl.ping(c); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *StreamWSController) write(c *WsSignalConn, out outbound) error {
	deadline := time.Now().Add(writeWait)
	if !out.deadline.IsZero() {
		deadline = out.deadline
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, out.data)
}

func (ctl *StreamWSController) readPump(sid domain.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
		ctl.Orch.Disconnect(sid)
	}()
	ctl.keepAlive(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		sess, ok := ctl.Orch.Session(sid)
		if !ok {
			return
		}
		if !ctl.handleSignal(sess, c, data) {
			return
		}
	}
}

// handleSignal dispatches one client message. It returns false when the
// connection must stop reading.
func (ctl *StreamWSController) handleSignal(sess *app.Session, c *WsSignalConn, data []byte) bool {
	m, err := protocol.Decode(data)
	if err == nil {
		switch v := m.(type) {
		case protocol.Start:
			err = ctl.Orch.Start(sess, v)
		case protocol.Stream:
			err = ctl.Orch.Stream(sess, v)
		default:
			err = fmt.Errorf("%w: %s is a server message", domain.ErrProtocol, m.Kind())
		}
	}

	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrSessionClosed):
		c.Close()
		return false
	case domain.IsFatal(err):
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("closing session")
		c.Terminate(err)
		return false
	default:
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sess.ID)).Msg("request rejected")
		ctl.Orch.Report(sess, err)
		return true
	}
}

package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/app/orch"
	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/protocol"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	sendQueue        = 32
	writeWait        = 10 * time.Second
	defaultReadLimit = 32768
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	Limiter    *ConnectLimiter
}

type StreamWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewStreamWSController(o *orch.Orchestrator, opts Options) *StreamWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &StreamWSController{Orch: o, opts: opts}
}

type outbound struct {
	data     core.Frame
	deadline time.Time
	// result is nil for fire-and-forget frames.
	result chan error
}

// WsSignalConn implements core.SignalConnection over a gorilla websocket.
// Only writePump writes data frames.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan outbound

	done      chan struct{}
	closeOnce sync.Once
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func newWsSignalConn(ws *websocket.Conn) *WsSignalConn {
	return &WsSignalConn{
		conn: ws,
		send: make(chan outbound, sendQueue),
		done: make(chan struct{}),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- outbound{data: f}:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrBackpressure
	}
}

// Deliver queues f and waits until writePump has written it.
func (c *WsSignalConn) Deliver(ctx context.Context, f core.Frame) error {
	out := outbound{data: f, result: make(chan error, 1)}
	if d, ok := ctx.Deadline(); ok {
		out.deadline = d
	}
	select {
	case c.send <- out:
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-out.result:
		return err
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate sends a close frame carrying reason, then closes.
func (c *WsSignalConn) Terminate(reason error) {
	select {
	case <-c.done:
		return
	default:
	}
	msg := websocket.FormatCloseMessage(closeCode(reason), closeText(reason))
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close frame")
	}
	c.Close()
}

func (c *WsSignalConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Done is closed once the connection is closed.
func (c *WsSignalConn) Done() <-chan struct{} { return c.done }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request, registers a session and announces its
// identity and first credential.
func (ctl *StreamWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	if !ctl.opts.Limiter.Allow(token) {
		log.Warn().Str("module", "signal").Str("client", token).Msg("connect rate exceeded")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many connections"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := newWsSignalConn(ws)
	sess, cred := ctl.Orch.Connect(ctx, conn)
	log.Info().Str("module", "signal").Str("sid", string(sess.ID)).Str("client", token).Msg("new WS connection")

	go ctl.writePump(conn)
	ctl.Orch.Send(sess, protocol.Ready{Identity: string(sess.ID), Credential: string(cred)})
	go ctl.readPump(sess.ID, conn)
}

func closeText(reason error) string {
	if reason == nil {
		return ""
	}
	text := reason.Error()
	// Close frame payload is limited to 125 bytes including the code.
	if len(text) > 123 {
		text = text[:123]
	}
	return text
}


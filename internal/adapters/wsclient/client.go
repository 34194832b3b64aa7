// Package wsclient is the player side of the stream channel.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/player"
	"github.com/dkeye/Slicer/internal/protocol"
)

const (
	handshakeWait = 10 * time.Second
	writeWait     = 10 * time.Second
	// Fragments are base64 mp4 windows; anything bigger is refused.
	maxMessage = 256 << 20
)

var ErrUnexpected = errors.New("unexpected message")

// Handler receives decoded server messages. *player.Scheduler implements it.
type Handler interface {
	Probe(meta *domain.Metadata)
	Fragment(w domain.Window, payload []byte)
	Error(code, reason string)
}

var _ Handler = (*player.Scheduler)(nil)
var _ player.Requester = (*Client)(nil)

// Client holds one connection. The credential it sends is always the most
// recently received one.
type Client struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	mu         sync.Mutex
	identity   string
	credential string
}

// Dial connects and waits for the Ready greeting.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessage)

	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	m, err := readMessage(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	ready, ok := m.(protocol.Ready)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s before Ready", ErrUnexpected, m.Kind())
	}
	_ = conn.SetReadDeadline(time.Time{})

	log.Info().Str("module", "wsclient").Str("identity", ready.Identity).Msg("connected")
	return &Client{conn: conn, identity: ready.Identity, credential: ready.Credential}, nil
}

func (c *Client) Identity() string { return c.identity }

func (c *Client) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

func (c *Client) Start() error {
	return c.send(protocol.Start{Identity: c.identity, Credential: c.Credential()})
}

func (c *Client) Request(w domain.Window) error {
	return c.send(protocol.Stream{
		Identity:   c.identity,
		Credential: c.Credential(),
		Window:     protocol.NewWindowMark(w),
	})
}

func (c *Client) send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Run feeds server messages to h until the connection ends or ctx is done.
// A normal close by the server returns nil.
func (c *Client) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		m, err := readMessage(c.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		switch v := m.(type) {
		case protocol.Probe:
			h.Probe(v.Metadata)
		case protocol.Fragment:
			// The next request must carry the rotated credential.
			c.mu.Lock()
			c.credential = v.Credential
			c.mu.Unlock()
			h.Fragment(v.Window.Window(), v.Payload)
		case protocol.Error:
			h.Error(v.Code, v.Reason)
		default:
			return fmt.Errorf("%w: %s", ErrUnexpected, m.Kind())
		}
	}
}

// Close sends a normal close frame and drops the connection.
func (c *Client) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func readMessage(conn *websocket.Conn) (protocol.Message, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

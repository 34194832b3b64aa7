package core

import "context"

// Frame is one encoded protocol message.
type Frame []byte

// SignalConnection abstracts the per-session message transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues f without blocking; it fails with a backpressure
	// error when the outbound queue is full.
	TrySend(Frame) error
	// Deliver blocks until f has been written to the wire, ctx is done
	// or the connection is closed.
	Deliver(ctx context.Context, f Frame) error
	Close()
}

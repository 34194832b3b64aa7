package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/domain"
)

// Extraction is the single in-flight fragment request of a session.
type Extraction struct {
	Credential domain.Credential
	Window     domain.Window
	Started    time.Time
}

// Session is the per-connection state. Nothing outside the owning
// connection observes or mutates it.
type Session struct {
	ID   domain.SessionID
	Conn core.SignalConnection

	ctx     context.Context
	cancel  context.CancelFunc
	workers conc.WaitGroup

	mu       sync.Mutex
	meta     *domain.Metadata
	inflight *Extraction
	closed   bool
}

func NewSession(parent context.Context, id domain.SessionID, conn core.SignalConnection) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{ID: id, Conn: conn, ctx: ctx, cancel: cancel}
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Metadata() (*domain.Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta, s.meta != nil
}

func (s *Session) SetMetadata(m *domain.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = m
}

// Begin claims the extraction slot for cred. It fails with
// domain.ErrConcurrentRequest while another extraction is pending.
func (s *Session) Begin(cred domain.Credential, w domain.Window) (*Extraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.inflight != nil {
		return nil, fmt.Errorf("%w: window %s still pending", domain.ErrConcurrentRequest, s.inflight.Window)
	}
	s.inflight = &Extraction{Credential: cred, Window: w, Started: time.Now()}
	return s.inflight, nil
}

// Finish releases the slot held by ex.
func (s *Session) Finish(ex *Extraction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == ex {
		s.inflight = nil
	}
}

func (s *Session) InFlight() *Extraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Go runs fn as a tracked worker of this session. It returns false once the
// session is closed.
func (s *Session) Go(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.workers.Go(func() { fn(s.ctx) })
	return true
}

// Close cancels all workers and waits up to grace for them to return.
// It reports whether every worker finished in time.
func (s *Session) Close(grace time.Duration) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return true
	}
	s.closed = true
	s.inflight = nil
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		return false
	}
}

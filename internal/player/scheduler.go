// Package player schedules fragment requests against local playback.
package player

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/domain"
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrServer           = errors.New("server error")
)

type Options struct {
	WindowSize float64
	// PrefetchDepth is how many fragments may wait behind the playing one.
	PrefetchDepth int
	// LowWatermark re-enables requests once that few fragments are waiting.
	LowWatermark  int
	QueueCapacity int
	MaxRetries    int
}

func (o *Options) setDefaults() {
	if o.WindowSize <= 0 {
		o.WindowSize = 5
	}
	if o.PrefetchDepth < 1 {
		o.PrefetchDepth = 1
	}
	if o.LowWatermark < 0 || o.LowWatermark >= o.PrefetchDepth {
		o.LowWatermark = o.PrefetchDepth - 1
	}
	if o.QueueCapacity < o.PrefetchDepth+1 {
		o.QueueCapacity = o.PrefetchDepth + 1
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
}

// Requester asks the server for one window. Implementations attach the
// current credential.
type Requester interface {
	Request(w domain.Window) error
}

// Renderer plays fragments. It reports back through the scheduler's
// Started, TimeUpdate and Ended methods.
type Renderer interface {
	Play(f Fragment)
}

type Fragment struct {
	Seq     int
	Window  domain.Window
	Payload []byte
}

// Stats is a point-in-time view for status output.
type Stats struct {
	Progress float64
	Duration float64
	Queued   int
	Current  int
	NextSize int
}

// Scheduler is safe for concurrent use. Requester and Renderer calls are
// made without holding its lock.
type Scheduler struct {
	opts     Options
	requests Requester
	renderer Renderer

	mu       sync.Mutex
	duration float64
	lastEnd  float64
	inflight *domain.Window
	deferred *domain.Window
	retries  int
	filling  bool

	queue        []Fragment
	playing      bool
	nextSeq      int
	consumed     int
	consumedSecs float64
	elapsed      float64

	finished bool
	err      error
	done     chan struct{}
}

func NewScheduler(opts Options, r Requester, out Renderer) *Scheduler {
	opts.setDefaults()
	return &Scheduler{
		opts:     opts,
		requests: r,
		renderer: out,
		filling:  true,
		done:     make(chan struct{}),
	}
}

// effects collects the calls decided under the lock.
type effects struct {
	request *domain.Window
	play    *Fragment
	finish  bool
}

func (s *Scheduler) apply(e effects) {
	if e.play != nil {
		s.renderer.Play(*e.play)
	}
	if e.request != nil {
		if err := s.requests.Request(*e.request); err != nil {
			s.mu.Lock()
			failed := s.failLocked(fmt.Errorf("request %s: %w", e.request, err))
			s.mu.Unlock()
			s.apply(failed)
			return
		}
	}
	if e.finish {
		close(s.done)
	}
}

// Probe starts scheduling once the source duration is known.
func (s *Scheduler) Probe(meta *domain.Metadata) {
	s.mu.Lock()
	if s.finished || s.duration > 0 {
		s.mu.Unlock()
		return
	}
	s.duration = meta.Duration
	log.Info().Str("module", "player").Float64("duration", meta.Duration).Str("container", meta.Container).Msg("source probed")
	e := effects{request: s.nextRequestLocked()}
	if e.request == nil {
		e.finish = s.checkDoneLocked()
	}
	s.mu.Unlock()
	s.apply(e)
}

// Fragment enqueues a delivered window.
func (s *Scheduler) Fragment(w domain.Window, payload []byte) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.opts.QueueCapacity {
		e := s.failLocked(fmt.Errorf("fragment queue full at %d", len(s.queue)))
		s.mu.Unlock()
		s.apply(e)
		return
	}
	s.inflight = nil
	s.retries = 0
	s.queue = append(s.queue, Fragment{Seq: s.nextSeq, Window: w, Payload: payload})
	s.nextSeq++

	var e effects
	e.play = s.playHeadLocked()
	switch {
	case s.deferred != nil && *s.deferred == w:
		// The pending request was the deferred window itself.
		s.deferred = nil
		e.request = s.nextRequestLocked()
	case s.deferred != nil:
		e.request, s.deferred = s.deferred, nil
		s.inflight = e.request
	default:
		e.request = s.nextRequestLocked()
	}
	s.mu.Unlock()
	s.apply(e)
}

// Error handles an Error message for the in-flight request.
func (s *Scheduler) Error(code, reason string) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	var e effects
	switch code {
	case "concurrent_request":
		// Retry once whatever is pending has arrived.
		s.deferred, s.inflight = s.inflight, nil
	case "window_invalid", "extraction_failed":
		if s.inflight == nil {
			break
		}
		s.retries++
		if s.retries > s.opts.MaxRetries {
			e = s.failLocked(fmt.Errorf("%w: window %s: %s", ErrRetriesExhausted, s.inflight, reason))
			break
		}
		log.Warn().Str("module", "player").Str("code", code).Int("attempt", s.retries).Str("window", s.inflight.String()).Msg("retrying window")
		w := *s.inflight
		e.request = &w
	default:
		e = s.failLocked(fmt.Errorf("%w: %s: %s", ErrServer, code, reason))
	}
	s.mu.Unlock()
	s.apply(e)
}

// Started is reported by the renderer when the head begins playing.
func (s *Scheduler) Started() {
	s.mu.Lock()
	e := effects{request: s.nextRequestLocked()}
	s.mu.Unlock()
	s.apply(e)
}

// TimeUpdate records the playback position inside the current fragment.
func (s *Scheduler) TimeUpdate(elapsed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playing {
		s.elapsed = elapsed
	}
}

// Ended is reported by the renderer when the head finished playing.
func (s *Scheduler) Ended() {
	s.mu.Lock()
	if !s.playing || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	s.playing = false
	s.consumed++
	s.consumedSecs += head.Window.Length()
	s.elapsed = 0

	var e effects
	e.play = s.playHeadLocked()
	e.request = s.nextRequestLocked()
	e.finish = s.checkDoneLocked()
	s.mu.Unlock()
	s.apply(e)
}

// Progress is the playback position in source seconds.
func (s *Scheduler) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumedSecs + s.elapsed
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Progress: s.consumedSecs + s.elapsed,
		Duration: s.duration,
		Queued:   len(s.queue),
		Current:  -1,
	}
	next := 0
	if s.playing && len(s.queue) > 0 {
		st.Current = s.queue[0].Seq
		next = 1
	}
	if len(s.queue) > next {
		st.NextSize = len(s.queue[next].Payload)
	}
	return st
}

// Done is closed when playback reached the end or failed.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops scheduling, for example when the connection dropped.
func (s *Scheduler) Close(err error) {
	s.mu.Lock()
	e := s.failLocked(err)
	s.mu.Unlock()
	s.apply(e)
}

// ahead counts fragments received but not yet playing.
func (s *Scheduler) aheadLocked() int {
	n := len(s.queue)
	if s.playing {
		n--
	}
	return n
}

func (s *Scheduler) nextRequestLocked() *domain.Window {
	if s.finished || s.duration <= 0 || s.inflight != nil || s.deferred != nil {
		return nil
	}
	if s.lastEnd >= s.duration || len(s.queue) >= s.opts.QueueCapacity {
		return nil
	}
	ahead := s.aheadLocked()
	if ahead >= s.opts.PrefetchDepth {
		s.filling = false
		return nil
	}
	if !s.filling && ahead > s.opts.LowWatermark {
		return nil
	}
	s.filling = true

	w := domain.Window{Start: s.lastEnd, End: math.Min(s.lastEnd+s.opts.WindowSize, s.duration)}
	s.lastEnd = w.End
	s.inflight = &w
	return &w
}

func (s *Scheduler) playHeadLocked() *Fragment {
	if s.playing || len(s.queue) == 0 {
		return nil
	}
	s.playing = true
	f := s.queue[0]
	return &f
}

func (s *Scheduler) checkDoneLocked() bool {
	if s.finished || s.lastEnd < s.duration || len(s.queue) > 0 || s.playing || s.inflight != nil || s.deferred != nil {
		return false
	}
	s.finished = true
	log.Info().Str("module", "player").Int("fragments", s.consumed).Float64("progress", s.consumedSecs).Msg("playback complete")
	return true
}

func (s *Scheduler) failLocked(err error) effects {
	if s.finished {
		return effects{}
	}
	s.finished = true
	s.err = err
	if err != nil {
		log.Error().Err(err).Str("module", "player").Msg("playback stopped")
	}
	return effects{finish: true}
}

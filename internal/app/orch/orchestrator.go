package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/dkeye/Slicer/internal/app"
	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/metrics"
	"github.com/dkeye/Slicer/internal/protocol"
)

const (
	defaultProbeTimeout    = 15 * time.Second
	defaultExtractTimeout  = 60 * time.Second
	defaultDeliveryTimeout = 30 * time.Second
	defaultGrace           = 5 * time.Second
	defaultMaxExtractions  = 4
)

type Options struct {
	Source          string
	MaxWindow       float64
	ProbeTimeout    time.Duration
	ExtractTimeout  time.Duration
	DeliveryTimeout time.Duration
	DisconnectGrace time.Duration
	MaxExtractions  int64
}

func (o *Options) setDefaults() {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = defaultProbeTimeout
	}
	if o.ExtractTimeout <= 0 {
		o.ExtractTimeout = defaultExtractTimeout
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = defaultDeliveryTimeout
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = defaultGrace
	}
	if o.MaxExtractions <= 0 {
		o.MaxExtractions = defaultMaxExtractions
	}
}

type Deps struct {
	Registry  *app.Registry
	Prober    core.Prober
	Extractor core.Extractor
	Store     core.FragmentStore
	Policy    app.Policy
	Metrics   *metrics.Metrics
}

// Orchestrator is the fragment lifecycle controller. It owns the live
// sessions and drives extraction, delivery, cleanup and credential rotation.
type Orchestrator struct {
	registry  *app.Registry
	prober    core.Prober
	extractor core.Extractor
	store     core.FragmentStore
	policy    app.Policy
	metrics   *metrics.Metrics
	opts      Options

	slots *semaphore.Weighted

	mu       sync.RWMutex
	sessions map[domain.SessionID]*app.Session
}

func New(d Deps, opts Options) *Orchestrator {
	opts.setDefaults()
	if d.Registry == nil {
		d.Registry = app.NewRegistry()
	}
	if d.Policy == nil {
		d.Policy = app.SimplePolicy{}
	}
	return &Orchestrator{
		registry:  d.Registry,
		prober:    d.Prober,
		extractor: d.Extractor,
		store:     d.Store,
		policy:    d.Policy,
		metrics:   d.Metrics,
		opts:      opts,
		slots:     semaphore.NewWeighted(opts.MaxExtractions),
		sessions:  make(map[domain.SessionID]*app.Session),
	}
}

func (o *Orchestrator) Registry() *app.Registry { return o.registry }

// Connect registers a new session for conn and returns it together with the
// first credential. The caller announces both with a Ready message.
func (o *Orchestrator) Connect(ctx context.Context, conn core.SignalConnection) (*app.Session, domain.Credential) {
	sid, cred := o.registry.CreateSession()
	sess := app.NewSession(ctx, sid, conn)

	o.mu.Lock()
	o.sessions[sid] = sess
	o.mu.Unlock()

	o.metrics.SessionOpened()
	return sess, cred
}

func (o *Orchestrator) Session(sid domain.SessionID) (*app.Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[sid]
	return s, ok
}

func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// Disconnect invalidates every credential of the session, cancels its
// in-flight work and removes any fragment it may have left behind.
func (o *Orchestrator) Disconnect(sid domain.SessionID) {
	o.mu.Lock()
	sess, ok := o.sessions[sid]
	delete(o.sessions, sid)
	o.mu.Unlock()
	if !ok {
		return
	}

	history := o.registry.Destroy(sid)
	if !sess.Close(o.opts.DisconnectGrace) {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Dur("grace", o.opts.DisconnectGrace).Msg("session workers still running after grace")
	}
	for _, c := range history {
		o.discard(c)
	}
	o.metrics.SessionClosed()
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("session disconnected")
}

// Shutdown disconnects every live session.
func (o *Orchestrator) Shutdown() {
	o.mu.RLock()
	ids := make([]domain.SessionID, 0, len(o.sessions))
	for sid := range o.sessions {
		ids = append(ids, sid)
	}
	o.mu.RUnlock()

	var wg conc.WaitGroup
	for _, sid := range ids {
		wg.Go(func() {
			if sess, ok := o.Session(sid); ok {
				sess.Conn.Close()
			}
			o.Disconnect(sid)
		})
	}
	wg.Wait()
}

// Send enqueues a control message, applying the backpressure policy when the
// session cannot take it.
func (o *Orchestrator) Send(sess *app.Session, m protocol.Message) {
	frame, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode message")
		return
	}
	if err := sess.Conn.TrySend(frame); err != nil {
		action := o.policy.OnBackPressure(sess.ID, string(m.Kind()))
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID)).Str("message", string(m.Kind())).Str("policy", action.String()).Msg("send failed")
		switch action {
		case app.CloseSession:
			sess.Conn.Close()
		case app.DropMessage, app.NoAction:
		}
	}
}

// Report sends a recoverable error to the client.
func (o *Orchestrator) Report(sess *app.Session, err error) {
	code := domain.ErrorCode(err)
	o.metrics.RequestError(code)
	log.Debug().Err(err).Str("module", "orch").Str("sid", string(sess.ID)).Str("code", code).Msg("reporting error")
	o.Send(sess, protocol.Error{Code: code, Reason: domain.PublicReason(err)})
}

func (o *Orchestrator) authorize(sess *app.Session, identity, credential string, action domain.Action) (domain.Credential, error) {
	cred, err := domain.ParseCredential(credential)
	if err == nil && identity != string(sess.ID) {
		err = &app.CredentialError{Reason: app.ReasonMismatch}
	}
	if err == nil {
		err = o.registry.Validate(sess.ID, cred, action)
	}
	if err != nil {
		var ce *app.CredentialError
		switch {
		case errors.As(err, &ce):
			o.metrics.CredentialRejected(ce.Reason)
		case errors.Is(err, domain.ErrCredential):
			o.metrics.CredentialRejected(app.ReasonUnknown)
		}
		return "", err
	}
	return cred, nil
}

func (o *Orchestrator) discard(c domain.Credential) {
	if err := o.store.Remove(c); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("remove fragment")
	}
}

package app

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Slicer/internal/domain"
)

const retiredCacheSize = 4096

// Rejection reasons reported by Validate.
const (
	ReasonUnknown  = "unknown"
	ReasonReplayed = "replayed"
	ReasonMismatch = "mismatch"
	ReasonClosed   = "closed"
)

// CredentialError carries the classified reason of a failed validation.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string { return "credential " + e.Reason }

func (e *CredentialError) Unwrap() error { return domain.ErrCredential }

type sessionEntry struct {
	State   domain.SessionState
	Current domain.Credential
	History []domain.Credential
}

// Registry is the single arbitration point for identities and credentials.
// Credentials are strictly single-use: only the current one validates.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*sessionEntry
	owners   map[domain.Credential]domain.SessionID
	retired  *lru.Cache
}

func NewRegistry() *Registry {
	retired, _ := lru.New(retiredCacheSize)
	return &Registry{
		sessions: make(map[domain.SessionID]*sessionEntry),
		owners:   make(map[domain.Credential]domain.SessionID),
		retired:  retired,
	}
}

// CreateSession issues a fresh identity with its first credential.
func (r *Registry) CreateSession() (domain.SessionID, domain.Credential) {
	sid := domain.NewSessionID()
	cred := domain.NewCredential()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		State:   domain.StateReady,
		Current: cred,
		History: []domain.Credential{cred},
	}
	r.owners[cred] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session created")
	return sid, cred
}

// Validate succeeds only if cred is the current credential of sid and the
// session state allows the action.
func (r *Registry) Validate(sid domain.SessionID, cred domain.Credential, action domain.Action) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sid]
	if !ok {
		return &CredentialError{Reason: ReasonClosed}
	}
	owner, valid := r.owners[cred]
	switch {
	case !valid && r.retired.Contains(cred):
		return &CredentialError{Reason: ReasonReplayed}
	case !valid:
		return &CredentialError{Reason: ReasonUnknown}
	case owner != sid || e.Current != cred:
		return &CredentialError{Reason: ReasonMismatch}
	}
	if !e.State.Allows(action) {
		return fmt.Errorf("%w: %s not allowed in state %s", domain.ErrProtocol, action, e.State)
	}
	return nil
}

// Activate moves a READY session to ACTIVE once its source is probed.
func (r *Registry) Activate(sid domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.ErrSessionClosed
	}
	if e.State != domain.StateReady {
		return fmt.Errorf("%w: activate in state %s", domain.ErrProtocol, e.State)
	}
	e.State = domain.StateActive
	return nil
}

// Rotate retires the current credential of sid and mints its successor.
func (r *Registry) Rotate(sid domain.SessionID) (domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", domain.ErrSessionClosed
	}

	delete(r.owners, e.Current)
	r.retired.Add(e.Current, sid)

	next := domain.NewCredential()
	e.Current = next
	e.History = append(e.History, next)
	r.owners[next] = sid
	if e.State == domain.StateActive {
		e.State = domain.StateStreaming
	}
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Int("issued", len(e.History)).Msg("credential rotated")
	return next, nil
}

// Destroy invalidates every credential ever issued to sid and forgets the
// session. It returns the issuance history.
func (r *Registry) Destroy(sid domain.SessionID) []domain.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	for _, c := range e.History {
		delete(r.owners, c)
		r.retired.Add(c, sid)
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("issued", len(e.History)).Msg("session destroyed")
	return e.History
}

// State returns StateClosed for unknown sessions.
func (r *Registry) State(sid domain.SessionID) domain.SessionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.State
	}
	return domain.StateClosed
}

func (r *Registry) Current(sid domain.SessionID) (domain.Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Current, true
	}
	return "", false
}

func (r *Registry) History(sid domain.SessionID) []domain.Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	return append([]domain.Credential(nil), e.History...)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

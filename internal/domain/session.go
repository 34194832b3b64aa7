// Package domain contains entities with little or no logic, just meta-data
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	SessionID  string
	Credential string
)

// NewSessionID issues a fresh connection identity.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NewCredential mints a random single-use credential.
func NewCredential() Credential {
	return Credential(uuid.NewString())
}

// ParseCredential rejects anything that was not minted by NewCredential.
// Credentials name files on disk, so only canonical UUIDs are accepted.
func ParseCredential(s string) (Credential, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: malformed credential", ErrCredential)
	}
	if id.String() != s {
		return "", fmt.Errorf("%w: non-canonical credential", ErrCredential)
	}
	return Credential(s), nil
}

type SessionState int

const (
	StateInit SessionState = iota
	StateReady
	StateActive
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReady:
		return "READY"
	case StateActive:
		return "ACTIVE"
	case StateStreaming:
		return "STREAMING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Action is a client request kind checked against the session state.
type Action string

const (
	ActionStart  Action = "Start"
	ActionStream Action = "Stream"
)

// Allows reports whether the state accepts the action.
func (s SessionState) Allows(a Action) bool {
	switch a {
	case ActionStart:
		return s == StateReady
	case ActionStream:
		return s == StateActive || s == StateStreaming
	}
	return false
}

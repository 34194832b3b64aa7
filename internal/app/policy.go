package app

import "github.com/dkeye/Slicer/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	CloseSession
)

func (a BackpressureAction) String() string {
	switch a {
	case DropMessage:
		return "drop"
	case CloseSession:
		return "close"
	default:
		return "none"
	}
}

// Policy decides what happens when a session's outbound queue is full.
type Policy interface {
	OnBackPressure(sid domain.SessionID, action string) BackpressureAction
}

// SimplePolicy closes any session that cannot keep up.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, string) BackpressureAction {
	return CloseSession
}

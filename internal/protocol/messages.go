// Package protocol defines the JSON control messages exchanged over the
// stream channel. Every message carries an "action" discriminator.
package protocol

import "github.com/dkeye/Slicer/internal/domain"

type Action string

const (
	// server -> client
	ActionReady    Action = "Ready"
	ActionProbe    Action = "Probe"
	ActionFragment Action = "Fragment"
	ActionError    Action = "Error"

	// client -> server
	ActionStart  Action = "Start"
	ActionStream Action = "Stream"
)

// Message is implemented by every decoded message.
type Message interface {
	Kind() Action
}

type envelope struct {
	Action Action `json:"action" validate:"required"`
}

type Ready struct {
	Action     Action `json:"action"`
	Identity   string `json:"identity" validate:"required"`
	Credential string `json:"credential" validate:"required"`
}

type Probe struct {
	Action   Action           `json:"action"`
	Metadata *domain.Metadata `json:"metadata" validate:"required"`
}

// Fragment carries the transcoded window. Payload is base64 on the wire.
type Fragment struct {
	Action     Action      `json:"action"`
	Payload    []byte      `json:"payload" validate:"required"`
	Credential string      `json:"credential" validate:"required"`
	Window     *WindowMark `json:"window" validate:"required"`
}

type Error struct {
	Action Action `json:"action"`
	Code   string `json:"code" validate:"required"`
	Reason string `json:"reason"`
}

type Start struct {
	Action     Action `json:"action"`
	Identity   string `json:"identity" validate:"required"`
	Credential string `json:"credential" validate:"required"`
}

type Stream struct {
	Action     Action      `json:"action"`
	Window     *WindowMark `json:"window" validate:"required"`
	Identity   string      `json:"identity" validate:"required"`
	Credential string      `json:"credential" validate:"required"`
}

// WindowMark uses pointers so that a zero start is distinguishable from a
// missing one.
type WindowMark struct {
	S *float64 `json:"s" validate:"required"`
	E *float64 `json:"e" validate:"required"`
}

func NewWindowMark(w domain.Window) *WindowMark {
	s, e := w.Start, w.End
	return &WindowMark{S: &s, E: &e}
}

func (m *WindowMark) Window() domain.Window {
	return domain.Window{Start: *m.S, End: *m.E}
}

func (Ready) Kind() Action    { return ActionReady }
func (Probe) Kind() Action    { return ActionProbe }
func (Fragment) Kind() Action { return ActionFragment }
func (Error) Kind() Action    { return ActionError }
func (Start) Kind() Action    { return ActionStart }
func (Stream) Kind() Action   { return ActionStream }

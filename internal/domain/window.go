package domain

import (
	"fmt"
	"math"
)

// Window is a half-open time range [Start, End) of the source in seconds.
type Window struct {
	Start float64 `json:"s"`
	End   float64 `json:"e"`
}

func (w Window) Length() float64 { return w.End - w.Start }

func (w Window) String() string {
	return fmt.Sprintf("[%.3f,%.3f)", w.Start, w.End)
}

// Validate checks the window against the probed source duration.
// maxLength <= 0 disables the length cap.
func (w Window) Validate(duration, maxLength float64) error {
	if math.IsNaN(w.Start) || math.IsNaN(w.End) || math.IsInf(w.Start, 0) || math.IsInf(w.End, 0) {
		return fmt.Errorf("%w: non-finite bounds", ErrWindow)
	}
	if w.Start < 0 {
		return fmt.Errorf("%w: start %.3f is negative", ErrWindow, w.Start)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: start %.3f is not before end %.3f", ErrWindow, w.Start, w.End)
	}
	if w.End > duration {
		return fmt.Errorf("%w: end %.3f exceeds duration %.3f", ErrWindow, w.End, duration)
	}
	if maxLength > 0 && w.Length() > maxLength {
		return fmt.Errorf("%w: length %.3f exceeds limit %.3f", ErrWindow, w.Length(), maxLength)
	}
	return nil
}

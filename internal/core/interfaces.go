package core

import (
	"time"

	"github.com/dkeye/Slicer/internal/domain"
)

// FragmentStore addresses ephemeral fragment files by the credential that
// authorised them.
type FragmentStore interface {
	Path(c domain.Credential) string
	Read(c domain.Credential) ([]byte, error)
	Exists(c domain.Credential) bool
	// Remove deletes the fragment; a missing file is not an error.
	Remove(c domain.Credential) error
	// Sweep removes fragments older than maxAge and returns how many.
	Sweep(maxAge time.Duration) (int, error)
}

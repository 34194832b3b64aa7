package core

import (
	"context"

	"github.com/dkeye/Slicer/internal/domain"
)

//go:generate mockgen -source=media_iface.go -destination=mocks/media_mock.go -package=mocks

// Extractor turns one window of the source into a self-contained fragment
// written to dst. Cancelling ctx must stop the underlying work.
type Extractor interface {
	Extract(ctx context.Context, src string, w domain.Window, dst string) error
}

// Prober reads container and stream metadata of the source.
type Prober interface {
	Probe(ctx context.Context, src string) (*domain.Metadata, error)
}

// Warmer is optionally implemented by extractors that can verify their
// runtime prerequisites ahead of the first window.
type Warmer interface {
	Warm(ctx context.Context, src string) error
}

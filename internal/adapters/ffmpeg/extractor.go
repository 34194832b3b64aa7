// Package ffmpeg runs the ffmpeg and ffprobe binaries on behalf of the
// fragment orchestrator.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/domain"
	"github.com/dkeye/Slicer/internal/procgroup"
)

const (
	defaultBinary   = "ffmpeg"
	defaultKillWait = 2 * time.Second
	stderrLines     = 20
)

var (
	_ core.Extractor = (*Extractor)(nil)
	_ core.Warmer    = (*Extractor)(nil)
)

// Extractor cuts windows out of a source file with ffmpeg. Every run lives
// in its own process group so cancellation reaps the whole tree.
type Extractor struct {
	Binary string
	Logger zerolog.Logger
	// KillWait is how long a cancelled ffmpeg gets between SIGTERM and SIGKILL.
	KillWait time.Duration
}

func NewExtractor(binary string, logger zerolog.Logger) *Extractor {
	if binary == "" {
		binary = defaultBinary
	}
	return &Extractor{
		Binary:   binary,
		Logger:   logger.With().Str("module", "ffmpeg").Logger(),
		KillWait: defaultKillWait,
	}
}

func (e *Extractor) Extract(ctx context.Context, src string, w domain.Window, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// #nosec G204 -- binary comes from config, every argument is built by ExtractArgs
	cmd := exec.Command(e.Binary, ExtractArgs(src, w, dst)...)
	stderr := newLineRing(stderrLines)
	cmd.Stderr = stderr

	g, err := procgroup.Start(cmd)
	if err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	select {
	case <-g.Done():
		if err := g.Wait(); err != nil {
			return fmt.Errorf("ffmpeg %s: %w (stderr: %s)", w, err, stderr)
		}
		return nil
	case <-ctx.Done():
		_ = g.Stop(e.KillWait)
		e.Logger.Debug().Str("window", w.String()).Msg("extraction cancelled")
		return ctx.Err()
	}
}

// Warm checks that the ffmpeg binary resolves and the source is readable.
func (e *Extractor) Warm(_ context.Context, src string) error {
	path, err := exec.LookPath(e.Binary)
	if err != nil {
		return fmt.Errorf("ffmpeg binary: %w", err)
	}
	fi, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if fi.IsDir() {
		return errors.New("source is a directory")
	}
	e.Logger.Debug().Str("binary", path).Int64("source_bytes", fi.Size()).Msg("extractor ready")
	return nil
}

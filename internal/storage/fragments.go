// Package storage keeps ephemeral fragment files addressed by credential.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/dkeye/Slicer/internal/core"
	"github.com/dkeye/Slicer/internal/domain"
)

const fragmentExt = ".mp4"

var _ core.FragmentStore = (*FragmentStore)(nil)

// FragmentStore is a flat directory of <credential>.mp4 files.
type FragmentStore struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewFragmentStore creates dir when it does not exist yet.
func NewFragmentStore(fs afero.Fs, dir string) (*FragmentStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fragment dir: %w", err)
	}
	return &FragmentStore{fs: fs, dir: dir, now: time.Now}, nil
}

func (s *FragmentStore) Fs() afero.Fs { return s.fs }

func (s *FragmentStore) Dir() string { return s.dir }

func (s *FragmentStore) Path(c domain.Credential) string {
	return filepath.Join(s.dir, string(c)+fragmentExt)
}

func (s *FragmentStore) Read(c domain.Credential) ([]byte, error) {
	b, err := afero.ReadFile(s.fs, s.Path(c))
	if err != nil {
		return nil, fmt.Errorf("read fragment: %w", err)
	}
	return b, nil
}

func (s *FragmentStore) Exists(c domain.Credential) bool {
	ok, _ := afero.Exists(s.fs, s.Path(c))
	return ok
}

func (s *FragmentStore) Remove(c domain.Credential) error {
	err := s.fs.Remove(s.Path(c))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove fragment: %w", err)
	}
	return nil
}

// Sweep deletes fragment files whose modification time is older than maxAge.
// maxAge == 0 removes every fragment.
func (s *FragmentStore) Sweep(maxAge time.Duration) (int, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, fmt.Errorf("list fragment dir: %w", err)
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, fi := range entries {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), fragmentExt) {
			continue
		}
		if maxAge > 0 && fi.ModTime().After(cutoff) {
			continue
		}
		if err := s.fs.Remove(filepath.Join(s.dir, fi.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Str("module", "storage").Int("removed", removed).Dur("max_age", maxAge).Msg("swept fragments")
	}
	return removed, errors.Join(errs...)
}

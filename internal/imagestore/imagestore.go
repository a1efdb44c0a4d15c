// Package imagestore persists camera snapshots as JPEG files so the
// dashboard and anything else on the mount can serve them statically.
package imagestore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store writes snapshots into one directory, one file per camera slug.
type Store struct {
	dir string
	log *slog.Logger
}

// New creates a store rooted at dir. The directory is created lazily on
// first write.
func New(dir string, log *slog.Logger) *Store {
	return &Store{dir: dir, log: log}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the snapshot path for a camera slug. The file may not
// exist yet.
func (s *Store) Path(slug string) string {
	return filepath.Join(s.dir, slug+".jpg")
}

// Has reports whether a snapshot exists for the slug.
func (s *Store) Has(slug string) bool {
	info, err := os.Stat(s.Path(slug))
	return err == nil && !info.IsDir()
}

// Write stores a snapshot for the slug, replacing any previous one. The
// write is atomic so a reader never sees a half-written image.
func (s *Store) Write(slug string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("imagestore: mkdir %s: %w", s.dir, err)
	}

	path := s.Path(slug)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("imagestore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("imagestore: rename %s: %w", path, err)
	}

	s.log.Debug("snapshot written", "path", path, "bytes", len(data))
	return path, nil
}

// Package file stores each blob as <dir>/<key>.json.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"

	"skarbnik/internal/storage"
)

const appDir = "skarbnik"

var _ storage.BlobStore = (*Store)(nil)

type Store struct {
	dir string
}

// New stores blobs under dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir is $XDG_DATA_HOME/skarbnik.
func DefaultDir() string {
	return filepath.Join(xdg.DataHome, appDir)
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path(key), err)
	}
	return b, nil
}

// Save writes a temporary file in the same directory and renames it over
// the target.
func (s *Store) Save(_ context.Context, key string, blob []byte) error {
	tmp, err := os.CreateTemp(s.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path(key), err)
	}
	return nil
}

// Package filestore keeps the embedding cache in a single JSON file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/linnemanlabs/lifeline/internal/embedcache"
)

// Store reads and writes one JSON cache file.
type Store struct {
	path string
}

// New returns a Store backed by the file at path. The file does not need to exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the cache file location.
func (s *Store) Path() string { return s.path }

// Read decodes the cache file. A missing file is not an error.
func (s *Store) Read(_ context.Context) (*embedcache.Entry, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}

	var e embedcache.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("filestore: decode %s: %w", s.path, err)
	}
	return &e, true, nil
}

// Write replaces the cache file. Data goes to a temp file in the same
// directory which is synced and closed before being renamed over the target,
// so readers see either the previous file or the complete new one.
func (s *Store) Write(_ context.Context, e *embedcache.Entry) (err error) {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("filestore: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("filestore: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("filestore: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("filestore: sync temp: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp: %w", err)
	}
	if err = os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("filestore: rename into place: %w", err)
	}
	return nil
}

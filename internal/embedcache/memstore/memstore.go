// Package memstore provides an in-memory embedcache.Backend. Contents do not
// survive a restart; suitable for dev/testing.
package memstore

import (
	"context"
	"sync"

	"github.com/linnemanlabs/lifeline/internal/embedcache"
)

// Store holds a single cache entry in memory.
type Store struct {
	mu    sync.RWMutex
	entry *embedcache.Entry
}

// New initializes an empty Store.
func New() *Store {
	return &Store{}
}

// Read returns a copy of the stored entry.
func (s *Store) Read(_ context.Context) (*embedcache.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.entry == nil {
		return nil, false, nil
	}
	return clone(s.entry), true, nil
}

// Write stores a copy of e.
func (s *Store) Write(_ context.Context, e *embedcache.Entry) error {
	cp := clone(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = cp
	return nil
}

func clone(e *embedcache.Entry) *embedcache.Entry {
	cp := &embedcache.Entry{
		Provider:   e.Provider,
		Phrases:    append([]string(nil), e.Phrases...),
		Embeddings: make([][]float32, len(e.Embeddings)),
	}
	for i, v := range e.Embeddings {
		cp.Embeddings[i] = append([]float32(nil), v...)
	}
	return cp
}

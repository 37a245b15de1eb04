// Package embedcache persists precomputed embeddings for the crisis reference
// phrases so a restart does not have to call the embedding provider again.
//
// Caching is an optimization only: every failure is logged and reported as a
// miss, never returned to the caller.
package embedcache

import (
	"context"
	"fmt"
	"slices"

	"github.com/linnemanlabs/go-core/log"
)

// Entry is the single persisted cache record. Embeddings[i] belongs to Phrases[i].
// Provider names the embedding model that produced the vectors.
type Entry struct {
	Provider   string      `json:"provider"`
	Phrases    []string    `json:"phrases"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Backend reads and writes the raw cache record.
type Backend interface {
	// Read returns (nil, false, nil) when nothing has been stored yet.
	Read(ctx context.Context) (*Entry, bool, error)
	Write(ctx context.Context, e *Entry) error
}

// Matches reports whether e was computed by provider for exactly phrases,
// same elements in the same order.
func Matches(e *Entry, provider string, phrases []string) bool {
	if e == nil {
		return false
	}
	return e.Provider == provider && slices.Equal(e.Phrases, phrases)
}

// Validate checks the structural invariant of an entry.
func Validate(e *Entry) error {
	if e == nil {
		return fmt.Errorf("embedcache: nil entry")
	}
	if len(e.Embeddings) != len(e.Phrases) {
		return fmt.Errorf("embedcache: %d embeddings for %d phrases", len(e.Embeddings), len(e.Phrases))
	}
	for i, v := range e.Embeddings {
		if len(v) == 0 {
			return fmt.Errorf("embedcache: embedding %d is empty", i)
		}
		if len(v) != len(e.Embeddings[0]) {
			return fmt.Errorf("embedcache: embedding %d has dimension %d, want %d", i, len(v), len(e.Embeddings[0]))
		}
	}
	return nil
}

// Cache applies the load/save policy on top of a Backend. A nil *Cache is
// usable and behaves as if caching were disabled.
type Cache struct {
	backend Backend
	logger  log.Logger
}

// New wraps backend with the cache policy.
func New(backend Backend, logger log.Logger) *Cache {
	if logger == nil {
		logger = log.Nop()
	}
	return &Cache{backend: backend, logger: logger}
}

// Load returns the cached entry if it exists, is well formed and was computed
// by provider for exactly the given phrases.
func (c *Cache) Load(ctx context.Context, provider string, phrases []string) (*Entry, bool) {
	if c == nil || c.backend == nil {
		return nil, false
	}

	e, ok, err := c.backend.Read(ctx)
	if err != nil {
		c.logger.Warn(ctx, "embedding cache unreadable, recomputing", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !Matches(e, provider, phrases) {
		c.logger.Info(ctx, "embedding cache stale (provider or phrases changed), recomputing",
			"cached_provider", e.Provider,
			"current_provider", provider,
			"cached_phrases", len(e.Phrases),
			"current_phrases", len(phrases),
		)
		return nil, false
	}
	if err := Validate(e); err != nil {
		c.logger.Warn(ctx, "embedding cache corrupt, recomputing", "error", err)
		return nil, false
	}

	c.logger.Info(ctx, "loaded reference embeddings from cache", "count", len(e.Embeddings))
	return e, true
}

// Save persists e. Errors are logged and swallowed.
func (c *Cache) Save(ctx context.Context, e *Entry) {
	if c == nil || c.backend == nil {
		return
	}
	if err := Validate(e); err != nil {
		c.logger.Error(ctx, err, "refusing to cache invalid embeddings")
		return
	}
	if err := c.backend.Write(ctx, e); err != nil {
		c.logger.Error(ctx, err, "failed to save embedding cache")
		return
	}
	c.logger.Info(ctx, "saved reference embeddings to cache", "count", len(e.Embeddings))
}

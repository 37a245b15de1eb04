package embedcache

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

type stubBackend struct {
	entry    *Entry
	readErr  error
	writeErr error
	writes   int
}

func (s *stubBackend) Read(_ context.Context) (*Entry, bool, error) {
	if s.readErr != nil {
		return nil, false, s.readErr
	}
	if s.entry == nil {
		return nil, false, nil
	}
	return s.entry, true, nil
}

func (s *stubBackend) Write(_ context.Context, e *Entry) error {
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.entry = e
	return nil
}

var phrases = []string{"first phrase", "second phrase"}

const provider = "ollama:all-minilm"

func validEntry() *Entry {
	return &Entry{
		Provider:   provider,
		Phrases:    []string{"first phrase", "second phrase"},
		Embeddings: [][]float32{{1, 0}, {0, 1}},
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		entry    *Entry
		provider string
		phrases  []string
		want     bool
	}{
		{"exact", validEntry(), provider, phrases, true},
		{"reordered", validEntry(), provider, []string{"second phrase", "first phrase"}, false},
		{"changed content", validEntry(), provider, []string{"first phrase", "second phrase!"}, false},
		{"extra phrase", validEntry(), provider, append(append([]string{}, phrases...), "third"), false},
		{"missing phrase", validEntry(), provider, phrases[:1], false},
		{"other model", validEntry(), "genai:gemini-embedding-001", phrases, false},
		{"unrecorded model", &Entry{Phrases: phrases, Embeddings: [][]float32{{1}, {1}}}, provider, phrases, false},
		{"nil entry", nil, provider, phrases, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Matches(tt.entry, tt.provider, tt.phrases); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate(validEntry()); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
	if err := Validate(&Entry{Phrases: phrases, Embeddings: [][]float32{{1}}}); err == nil {
		t.Error("expected error for length mismatch")
	}
	if err := Validate(&Entry{Phrases: phrases, Embeddings: [][]float32{{1}, {}}}); err == nil {
		t.Error("expected error for empty embedding")
	}
	if err := Validate(&Entry{Phrases: phrases, Embeddings: [][]float32{{1, 0}, {0, 1, 0}}}); err == nil {
		t.Error("expected error for mixed dimensions")
	}
	if err := Validate(nil); err == nil {
		t.Error("expected error for nil entry")
	}
}

func TestCache_LoadHit(t *testing.T) {
	t.Parallel()

	c := New(&stubBackend{entry: validEntry()}, log.Nop())
	e, ok := c.Load(context.Background(), provider, phrases)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(e.Embeddings) != 2 {
		t.Errorf("embeddings = %d, want 2", len(e.Embeddings))
	}
}

func TestCache_LoadMisses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		backend  *stubBackend
		provider string
		phrases  []string
	}{
		{"empty", &stubBackend{}, provider, phrases},
		{"read error", &stubBackend{readErr: errors.New("disk on fire")}, provider, phrases},
		{"stale order", &stubBackend{entry: validEntry()}, provider, []string{"second phrase", "first phrase"}},
		{"model switched", &stubBackend{entry: validEntry()}, "ollama:nomic-embed-text", phrases},
		{"corrupt", &stubBackend{entry: &Entry{Provider: provider, Phrases: phrases, Embeddings: [][]float32{{1, 0}}}}, provider, phrases},
		{"mixed dimensions", &stubBackend{entry: &Entry{Provider: provider, Phrases: phrases, Embeddings: [][]float32{{1, 0}, {1, 0, 0}}}}, provider, phrases},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, ok := New(tt.backend, nil).Load(context.Background(), tt.provider, tt.phrases); ok {
				t.Error("expected cache miss")
			}
		})
	}
}

func TestCache_SaveSwallowsErrors(t *testing.T) {
	t.Parallel()

	b := &stubBackend{writeErr: errors.New("read-only filesystem")}
	c := New(b, log.Nop())
	c.Save(context.Background(), validEntry())
	if b.writes != 1 {
		t.Errorf("writes = %d, want 1", b.writes)
	}
}

func TestCache_SaveRejectsInvalid(t *testing.T) {
	t.Parallel()

	b := &stubBackend{}
	New(b, log.Nop()).Save(context.Background(), &Entry{Phrases: phrases})
	if b.writes != 0 {
		t.Errorf("writes = %d, want 0 for invalid entry", b.writes)
	}
}

func TestCache_NilIsDisabled(t *testing.T) {
	t.Parallel()

	var c *Cache
	if _, ok := c.Load(context.Background(), provider, phrases); ok {
		t.Error("nil cache should always miss")
	}
	c.Save(context.Background(), validEntry())
}

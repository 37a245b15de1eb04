// Package embedding turns text into fixed-length vectors for semantic comparison.
// Backends: a local Ollama server or Google GenAI.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed returns the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the backend and model, e.g. "ollama:all-minilm".
	Name() string
}

// Provider kinds accepted by New.
const (
	KindNone   = "none"
	KindOllama = "ollama"
	KindGenAI  = "genai"
)

const defaultHTTPTimeout = 30 * time.Second

// Config selects and configures an embedding backend.
type Config struct {
	Kind string

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
}

// New builds the Provider described by cfg. A "none" or empty kind returns
// (nil, nil), which callers treat as "semantic matching disabled".
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Kind {
	case "", KindNone:
		return nil, nil
	case KindOllama:
		return NewOllama(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	case KindGenAI:
		g, err := NewGenAI(ctx, cfg.GenAIAPIKey, cfg.GenAIModel)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("embedding: unsupported provider %q (use none, ollama or genai)", cfg.Kind)
	}
}

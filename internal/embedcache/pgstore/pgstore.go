// Package pgstore keeps the embedding cache in PostgreSQL so every replica
// shares one precomputed set of reference vectors.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/lifeline/internal/embedcache"
)

var tracer = otel.Tracer("github.com/linnemanlabs/lifeline/internal/embedcache/pgstore")

//go:embed schema.sql
var schema string

// DefaultKey names the row holding the crisis reference embeddings.
const DefaultKey = "crisis_reference_phrases"

// Store persists one cache entry per key in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	key  string
}

// New applies the schema and returns a Store for the given row key.
// An empty key uses DefaultKey.
func New(ctx context.Context, pool *pgxpool.Pool, key string) (*Store, error) {
	if key == "" {
		key = DefaultKey
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("pgstore: apply schema: %w", err)
	}
	return &Store{pool: pool, key: key}, nil
}

// Read loads the cache row. A missing row is not an error.
func (s *Store) Read(ctx context.Context) (*embedcache.Entry, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Read", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var (
		e                           embedcache.Entry
		phrasesJSON, embeddingsJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT provider, phrases, embeddings FROM embedding_cache WHERE cache_key = $1`, s.key,
	).Scan(&e.Provider, &phrasesJSON, &embeddingsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("pgstore: select: %w", err)
	}

	if err := json.Unmarshal(phrasesJSON, &e.Phrases); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("pgstore: unmarshal phrases: %w", err)
	}
	if err := json.Unmarshal(embeddingsJSON, &e.Embeddings); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("pgstore: unmarshal embeddings: %w", err)
	}
	span.SetAttributes(
		attribute.String("lifeline.cache.provider", e.Provider),
		attribute.Int("lifeline.cache.phrases", len(e.Phrases)),
	)
	return &e, true, nil
}

// Write upserts the cache row in a single transaction.
func (s *Store) Write(ctx context.Context, e *embedcache.Entry) error {
	ctx, span := tracer.Start(ctx, "pgstore.Write", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.Int("lifeline.cache.phrases", len(e.Phrases)),
	))
	defer span.End()

	phrasesJSON, err := json.Marshal(e.Phrases)
	if err != nil {
		return fmt.Errorf("pgstore: marshal phrases: %w", err)
	}
	embeddingsJSON, err := json.Marshal(e.Embeddings)
	if err != nil {
		return fmt.Errorf("pgstore: marshal embeddings: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx, `INSERT INTO embedding_cache (cache_key, provider, phrases, embeddings, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE SET
			provider   = EXCLUDED.provider,
			phrases    = EXCLUDED.phrases,
			embeddings = EXCLUDED.embeddings,
			updated_at = EXCLUDED.updated_at`,
		s.key, e.Provider, phrasesJSON, embeddingsJSON, time.Now().UTC(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgstore: upsert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

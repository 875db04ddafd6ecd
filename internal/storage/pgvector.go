package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// PGVectorIndex stores vectors in PostgreSQL with the pgvector extension and
// ranks them with the <=> cosine distance operator
type PGVectorIndex struct {
	db   *sql.DB
	opts vectorOptions

	mu         sync.RWMutex
	available  bool
	dimensions int
}

var _ VectorIndex = (*PGVectorIndex)(nil)

// NewPGVectorIndex opens a connection pool for dsn. The connection is not
// checked until Initialize.
func NewPGVectorIndex(dsn string, opts ...VectorIndexOption) (*PGVectorIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGVectorIndex{db: db, opts: buildVectorOptions(opts)}, nil
}

// Initialize creates the extension and table. Any failure, including a
// server without pgvector, leaves the index disabled.
func (p *PGVectorIndex) Initialize(ctx context.Context, dimensions int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dimensions = dimensions
	p.available = false
	if !p.opts.enabled {
		p.opts.logger.Info("vector index disabled by configuration")
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := p.db.PingContext(initCtx); err != nil {
		p.opts.logger.Warn("postgres unreachable, semantic search disabled", zap.Error(err))
		return nil
	}
	if _, err := p.db.ExecContext(initCtx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		p.opts.logger.Warn("pgvector extension unavailable, semantic search disabled", zap.Error(err))
		return nil
	}

	column := "vector"
	if dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", dimensions)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entry_vectors (
		entry_id TEXT PRIMARY KEY,
		embedding %s NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, column)
	if _, err := p.db.ExecContext(initCtx, ddl); err != nil {
		p.opts.logger.Warn("failed to create entry_vectors, semantic search disabled", zap.Error(err))
		return nil
	}

	p.available = true
	p.opts.logger.Debug("pgvector index ready", zap.Int("dimensions", dimensions))
	return nil
}

func (p *PGVectorIndex) IsAvailable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.available
}

func (p *PGVectorIndex) State(ctx context.Context) IndexState {
	return stateOf(ctx, p, p.opts.logger)
}

func (p *PGVectorIndex) Upsert(ctx context.Context, entryID string, vector []float32) error {
	if !p.IsAvailable() {
		return nil
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	p.mu.RLock()
	dims := p.dimensions
	p.mu.RUnlock()
	if dims > 0 && len(vector) != dims {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), dims)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO entry_vectors (entry_id, embedding, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (entry_id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()
	`, entryID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (p *PGVectorIndex) Delete(ctx context.Context, entryID string) error {
	if !p.IsAvailable() {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, "DELETE FROM entry_vectors WHERE entry_id = $1", entryID); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (p *PGVectorIndex) Get(ctx context.Context, entryID string) ([]float32, error) {
	if !p.IsAvailable() {
		return nil, nil
	}
	var vec pgvector.Vector
	err := p.db.QueryRowContext(ctx, "SELECT embedding FROM entry_vectors WHERE entry_id = $1", entryID).Scan(&vec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	return vec.Slice(), nil
}

func (p *PGVectorIndex) Has(ctx context.Context, entryID string) (bool, error) {
	if !p.IsAvailable() {
		return false, nil
	}
	var exists bool
	err := p.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM entry_vectors WHERE entry_id = $1)", entryID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check vector: %w", err)
	}
	return exists, nil
}

func (p *PGVectorIndex) Count(ctx context.Context) (int, error) {
	if !p.IsAvailable() {
		return 0, nil
	}
	var n int
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entry_vectors").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// Search ranks by cosine distance. Vectors of another size are skipped so an
// unconstrained column never raises a dimension error.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	if !p.IsAvailable() || k <= 0 || len(query) == 0 {
		return []VectorResult{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT entry_id, 1 - (embedding <=> $1) AS similarity
		FROM entry_vectors
		WHERE vector_dims(embedding) = $2
		ORDER BY embedding <=> $1, entry_id
		LIMIT $3
	`, pgvector.NewVector(query), len(query), k)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, k)
	for rows.Next() {
		var result VectorResult
		if err := rows.Scan(&result.EntryID, &result.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func (p *PGVectorIndex) Close() error {
	return p.db.Close()
}

package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/logging"
)

// ErrDimensionMismatch is returned when a vector does not match the index size
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// VectorIndexOption configures a vector index
type VectorIndexOption func(*vectorOptions)

type vectorOptions struct {
	logger  *zap.Logger
	enabled bool
}

func buildVectorOptions(opts []VectorIndexOption) vectorOptions {
	o := vectorOptions{logger: zap.NewNop(), enabled: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithVectorLogger sets the logger for capability changes
func WithVectorLogger(l *zap.Logger) VectorIndexOption {
	return func(o *vectorOptions) {
		o.logger = logging.OrNop(l)
	}
}

// WithVectorEnabled disables the index when enabled is false. A disabled index
// stays in IndexUnavailable.
func WithVectorEnabled(enabled bool) VectorIndexOption {
	return func(o *vectorOptions) {
		o.enabled = enabled
	}
}

const entryVectorsDDL = `
CREATE TABLE IF NOT EXISTS entry_vectors (
    entry_id TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entry_vectors_dimension ON entry_vectors(dimension);
`

// SQLiteVectorIndex keeps vectors in the record store's SQLite database.
// With the sqlite_vec build and a loadable extension, distances are computed
// in SQL; otherwise in Go.
type SQLiteVectorIndex struct {
	db   *sql.DB
	opts vectorOptions

	mu          sync.RWMutex
	available   bool
	sqlDistance bool
	dimensions  int
}

var _ VectorIndex = (*SQLiteVectorIndex)(nil)

// NewSQLiteVectorIndex creates an index on db. It is unavailable until Initialize.
func NewSQLiteVectorIndex(db *sql.DB, opts ...VectorIndexOption) *SQLiteVectorIndex {
	return &SQLiteVectorIndex{db: db, opts: buildVectorOptions(opts)}
}

// Initialize probes vector support and creates the table. Failure leaves the
// index disabled rather than returning an error.
func (v *SQLiteVectorIndex) Initialize(ctx context.Context, dimensions int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.dimensions = dimensions
	if !v.opts.enabled {
		v.available = false
		v.opts.logger.Info("vector index disabled by configuration")
		return nil
	}

	if _, err := v.db.ExecContext(ctx, entryVectorsDDL); err != nil {
		v.available = false
		v.opts.logger.Warn("vector index unavailable, semantic search disabled", zap.Error(err))
		return nil
	}

	v.sqlDistance = false
	if VectorExtensionAvailable {
		var version string
		if err := v.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version); err == nil {
			v.sqlDistance = true
		} else {
			v.opts.logger.Debug("sqlite-vec not loaded, computing distances in Go", zap.Error(err))
		}
	}

	v.available = true
	v.opts.logger.Debug("vector index ready",
		zap.Int("dimensions", dimensions),
		zap.Bool("sql_distance", v.sqlDistance),
		zap.String("build", BuildMode))
	return nil
}

func (v *SQLiteVectorIndex) IsAvailable() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.available
}

func (v *SQLiteVectorIndex) State(ctx context.Context) IndexState {
	return stateOf(ctx, v, v.opts.logger)
}

// stateOf derives the three-way state from availability and row count
func stateOf(ctx context.Context, idx VectorIndex, logger *zap.Logger) IndexState {
	if !idx.IsAvailable() {
		return IndexUnavailable
	}
	n, err := idx.Count(ctx)
	if err != nil {
		logger.Warn("vector count failed", zap.Error(err))
		return IndexUnavailable
	}
	if n == 0 {
		return IndexEmpty
	}
	return IndexPopulated
}

func (v *SQLiteVectorIndex) checkDimension(vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	v.mu.RLock()
	dims := v.dimensions
	v.mu.RUnlock()
	if dims > 0 && len(vector) != dims {
		return fmt.Errorf("%w: got %d, index expects %d", ErrDimensionMismatch, len(vector), dims)
	}
	return nil
}

// Upsert replaces the vector for entryID inside one transaction
func (v *SQLiteVectorIndex) Upsert(ctx context.Context, entryID string, vector []float32) error {
	if !v.IsAvailable() {
		return nil
	}
	if err := v.checkDimension(vector); err != nil {
		return err
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM entry_vectors WHERE entry_id = ?", entryID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to replace vector: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO entry_vectors (entry_id, vector, dimension, updated_at) VALUES (?, ?, ?, ?)",
		entryID, serializeVector(vector), len(vector), now()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert vector: %w", err)
	}
	return tx.Commit()
}

func (v *SQLiteVectorIndex) Delete(ctx context.Context, entryID string) error {
	if !v.IsAvailable() {
		return nil
	}
	if _, err := v.db.ExecContext(ctx, "DELETE FROM entry_vectors WHERE entry_id = ?", entryID); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (v *SQLiteVectorIndex) Get(ctx context.Context, entryID string) ([]float32, error) {
	if !v.IsAvailable() {
		return nil, nil
	}
	var blob []byte
	err := v.db.QueryRowContext(ctx, "SELECT vector FROM entry_vectors WHERE entry_id = ?", entryID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vector: %w", err)
	}
	return deserializeVector(blob), nil
}

func (v *SQLiteVectorIndex) Has(ctx context.Context, entryID string) (bool, error) {
	if !v.IsAvailable() {
		return false, nil
	}
	var one int
	err := v.db.QueryRowContext(ctx, "SELECT 1 FROM entry_vectors WHERE entry_id = ?", entryID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check vector: %w", err)
	}
	return true, nil
}

func (v *SQLiteVectorIndex) Count(ctx context.Context) (int, error) {
	if !v.IsAvailable() {
		return 0, nil
	}
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entry_vectors").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

// Search performs vector similarity search using cosine similarity.
// Rows stored with a different dimension are skipped.
func (v *SQLiteVectorIndex) Search(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	if !v.IsAvailable() || k <= 0 || len(query) == 0 {
		return []VectorResult{}, nil
	}

	v.mu.RLock()
	optimized := v.sqlDistance
	v.mu.RUnlock()

	// Use optimized SQL-based search when sqlite-vec is available
	if optimized {
		return v.searchOptimized(ctx, query, k)
	}
	// Fall back to Go-based computation
	return v.searchFallback(ctx, query, k)
}

// searchOptimized uses sqlite-vec extension for SQL-based vector similarity search
func (v *SQLiteVectorIndex) searchOptimized(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	// vec_distance_cosine returns distance (lower is better)
	rows, err := v.db.QueryContext(ctx, `
		SELECT entry_id, 1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM entry_vectors
		WHERE dimension = ?
		ORDER BY similarity DESC, entry_id
		LIMIT ?
	`, serializeVector(query), len(query), k)
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

// searchFallback loads candidate vectors and ranks them in Go
func (v *SQLiteVectorIndex) searchFallback(ctx context.Context, query []float32, k int) ([]VectorResult, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT entry_id, vector FROM entry_vectors WHERE dimension = ?", len(query))
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, query)
	if err != nil {
		return nil, err
	}
	sortCandidates(candidates)
	return buildVectorResults(candidates, k), nil
}

func (v *SQLiteVectorIndex) Close() error {
	return nil
}

// Helper functions

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var entryID string
		var vectorBlob []byte
		if err := rows.Scan(&entryID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		candidates = append(candidates, candidate{entryID: entryID, score: cosineSimilarity(queryVector, vector)})
	}

	return candidates, rows.Err()
}

// buildVectorResults creates VectorResult slice from the top k candidates
func buildVectorResults(candidates []candidate, k int) []VectorResult {
	if k > len(candidates) {
		k = len(candidates)
	}

	results := make([]VectorResult, k)
	for i := 0; i < k; i++ {
		results[i] = VectorResult{
			EntryID:    candidates[i].entryID,
			Similarity: candidates[i].score,
		}
	}
	return results
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents an entry with its similarity score
type candidate struct {
	entryID string
	score   float64
}

// sortCandidates sorts by score descending, then entry id for stable output
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entryID < candidates[j].entryID
	})
}

package storage

import (
	"context"
	"time"

	"github.com/dshills/kbase/pkg/types"
)

// RecordStore is the read contract the retrieval pipeline needs from the
// knowledge base
type RecordStore interface {
	// ListEntries returns one page of entries matching filters, ordered by creation time
	ListEntries(ctx context.Context, filters types.SearchFilters, page Page) (*EntryPage, error)

	// GetEntry returns ErrNotFound when the id is unknown
	GetEntry(ctx context.Context, id string) (*types.Entry, error)

	// SearchFullText returns entries matching query, best match first
	SearchFullText(ctx context.Context, query string, filters types.SearchFilters, limit int) ([]*types.Entry, error)

	// GetRelations returns every relation touching entryID in either direction
	GetRelations(ctx context.Context, entryID string) ([]*types.Relation, error)
}

// Storage is the full record store: the pipeline contract plus the writes
// that keep it populated
type Storage interface {
	RecordStore

	// Project operations
	CreateProject(ctx context.Context, project *types.Project) error
	GetProject(ctx context.Context, id string) (*types.Project, error)

	// Entry operations
	CreateEntry(ctx context.Context, entry *types.Entry) error
	UpdateEntry(ctx context.Context, entry *types.Entry) error
	DeleteEntry(ctx context.Context, id string) error

	// Relation operations
	CreateRelation(ctx context.Context, relation *types.Relation) error
	DeleteRelation(ctx context.Context, id string) error

	// Status operations
	Status(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
}

// Page selects a window of a listing
type Page struct {
	Offset int
	Limit  int
}

// EntryPage is one window of a listing plus the total matching count
type EntryPage struct {
	Entries []*types.Entry
	Total   int
}

// HasMore reports whether entries exist past this page
func (p *EntryPage) HasMore(page Page) bool {
	return page.Offset+len(p.Entries) < p.Total
}

// Status contains statistics about the knowledge base
type Status struct {
	SchemaVersion  string
	ProjectsCount  int
	EntriesCount   int
	RelationsCount int
	VectorsCount   int
	DatabaseSizeMB float64
	Health         HealthStatus
}

// HealthStatus represents the health of the store
type HealthStatus struct {
	DatabaseAccessible bool
	FTSIndexBuilt      bool
	VectorIndexState   IndexState
}

// IndexState is the capability state of a vector index
type IndexState int

const (
	// IndexUnavailable means vector search is disabled or unsupported; reads
	// are empty and writes are no-ops
	IndexUnavailable IndexState = iota
	// IndexEmpty means vector search works but nothing is indexed yet
	IndexEmpty
	// IndexPopulated means at least one vector is stored
	IndexPopulated
)

func (s IndexState) String() string {
	switch s {
	case IndexEmpty:
		return "empty"
	case IndexPopulated:
		return "populated"
	default:
		return "unavailable"
	}
}

// VectorIndex stores one vector per entry id and answers k-nearest-neighbour
// queries by cosine similarity
type VectorIndex interface {
	// Initialize prepares storage for vectors of the given size. A backend
	// that cannot support vector search switches to IndexUnavailable instead
	// of failing. dimensions 0 accepts any size.
	Initialize(ctx context.Context, dimensions int) error

	IsAvailable() bool
	State(ctx context.Context) IndexState

	// Upsert replaces any existing vector for entryID
	Upsert(ctx context.Context, entryID string, vector []float32) error
	Delete(ctx context.Context, entryID string) error

	// Get returns nil, nil when no vector is stored for entryID
	Get(ctx context.Context, entryID string) ([]float32, error)
	Has(ctx context.Context, entryID string) (bool, error)
	Count(ctx context.Context) (int, error)

	// Search returns at most k entries ordered by descending similarity
	Search(ctx context.Context, query []float32, k int) ([]VectorResult, error)

	Close() error
}

// VectorResult represents a result from vector similarity search.
// Similarity is 1 - cosine distance.
type VectorResult struct {
	EntryID    string
	Similarity float64
}

// Timestamps are stored in UTC
func now() time.Time {
	return time.Now().UTC()
}

package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrProviderUnavailable   = errors.New("embedding provider unavailable")
	ErrEmbeddingFailed       = errors.New("embedding failed")
	ErrUnsupportedProvider   = errors.New("unsupported embedding provider")
	ErrNoProviderAvailable   = errors.New("no embedding provider available")
	ErrServiceNotInitialized = errors.New("embedding service not initialized")
)

// ProbeTimeout bounds every availability probe so a hung dependency cannot
// stall provider selection.
const ProbeTimeout = 3 * time.Second

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text string
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
}

// BatchEmbeddingResponse represents a batch response.
// Embeddings[i] corresponds to Texts[i].
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Vectors returns the raw vectors in request order
func (r *BatchEmbeddingResponse) Vectors() [][]float32 {
	out := make([][]float32, len(r.Embeddings))
	for i, e := range r.Embeddings {
		out[i] = e.Vector
	}
	return out
}

// Embedder is the capability shared by every embedding provider
type Embedder interface {
	// Initialize loads the model or checks connectivity. Repeat calls after
	// success are no-ops. Failures wrap ErrProviderUnavailable.
	Initialize(ctx context.Context) error

	// IsAvailable is a side-effect-free probe used during provider selection
	IsAvailable(ctx context.Context) bool

	// GenerateEmbedding generates a single embedding for the given text.
	// Empty text is accepted.
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts, preserving order
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider, or 0 if
	// it is only known after initialization
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// MaxInputLength is the input size in characters beyond which the model
	// may degrade or cut the text. Providers never truncate on their own.
	MaxInputLength() int

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of embeddings by content hash
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](10000)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a deep copy of an embedding from cache
func (c *Cache) Get(hash string) (*Embedding, bool) {
	if c == nil {
		return nil, false
	}
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	vectorCopy := make([]float32, len(emb.Vector))
	copy(vectorCopy, emb.Vector)

	return &Embedding{
		Vector:    vectorCopy,
		Dimension: emb.Dimension,
		Provider:  emb.Provider,
		Model:     emb.Model,
		Hash:      emb.Hash,
	}, true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *Embedding) {
	if c == nil {
		return
	}
	stored := *emb
	stored.Vector = make([]float32, len(emb.Vector))
	copy(stored.Vector, emb.Vector)
	c.cache.Add(hash, &stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching. The provider and
// model are part of the key so one cache can be shared safely.
func ComputeHash(provider, model, text string) string {
	h := sha256.Sum256([]byte(provider + "\x00" + model + "\x00" + text))
	return hex.EncodeToString(h[:])
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if req.Texts == nil {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}

// apiInput maps empty text to a single space; hosted APIs reject empty strings
func apiInput(text string) string {
	if text == "" {
		return " "
	}
	return text
}

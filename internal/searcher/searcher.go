package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/kbase/internal/config"
	"github.com/dshills/kbase/internal/logging"
	"github.com/dshills/kbase/internal/storage"
	"github.com/dshills/kbase/pkg/types"
)

// Mode defines how search is performed
type Mode string

const (
	ModeHybrid   Mode = "hybrid"   // Keyword + semantic fused with RRF
	ModeSemantic Mode = "semantic" // Vector similarity only
	ModeKeyword  Mode = "keyword"  // Full-text search only
)

// RRFConstant is the k damping term of Reciprocal Rank Fusion
const RRFConstant = 60

// Default minimum semantic scores per mode
const (
	DefaultKeywordMinScore  = 0.0
	DefaultSemanticMinScore = 0.3
	DefaultHybridMinScore   = 0.05
)

// semanticRetryInterval is how long a failed embedder initialization keeps
// semantic search switched off before it is attempted again.
const semanticRetryInterval = time.Minute

var (
	ErrEmptyQuery          = errors.New("query cannot be empty")
	ErrInvalidMode         = errors.New("invalid search mode")
	ErrReindexInProgress   = errors.New("reindex already in progress")
	ErrSemanticUnavailable = errors.New("semantic search is unavailable")
)

// semanticFallbackWarning is returned when a semantic request ran as keyword
const semanticFallbackWarning = "semantic search unavailable, results are from keyword search"

// ParseMode converts a mode name. Empty selects hybrid and "vector" is
// accepted for semantic.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeHybrid):
		return ModeHybrid, nil
	case string(ModeSemantic), "vector":
		return ModeSemantic, nil
	case string(ModeKeyword):
		return ModeKeyword, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// DefaultMinScore returns the semantic floor applied when a request sets none
func DefaultMinScore(mode Mode) float64 {
	switch mode {
	case ModeSemantic:
		return DefaultSemanticMinScore
	case ModeHybrid:
		return DefaultHybridMinScore
	default:
		return DefaultKeywordMinScore
	}
}

// Embedder is the slice of the embedding service the engine needs.
// *embedder.Service satisfies it.
type Embedder interface {
	Initialize(ctx context.Context) error
	Embed(ctx context.Context, text string) ([]float32, error)
	MaxInputLength() int
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query   string
	Mode    Mode
	Filters types.SearchFilters
	Limit   int
	// MinScore overrides the mode's default semantic floor when set
	MinScore *float64
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	Mode          Mode // Mode actually used
	RequestedMode Mode
	// Warning is set when the requested mode could not be honored
	Warning         string
	Duration        time.Duration
	KeywordResults  int
	SemanticResults int
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.OrNop(l)
	}
}

// WithSearchConfig applies configured defaults for mode and limits
func WithSearchConfig(cfg config.SearchConfig) Option {
	return func(e *Engine) {
		if mode, err := ParseMode(cfg.DefaultMode); err == nil && cfg.DefaultMode != "" {
			e.defaultMode = mode
		}
		if cfg.DefaultLimit > 0 {
			e.defaultLimit = cfg.DefaultLimit
		}
		if cfg.MaxLimit > 0 {
			e.maxLimit = cfg.MaxLimit
		}
	}
}

// Engine ranks entries by keyword, semantic or fused relevance and keeps
// the vector index in step with the record store.
type Engine struct {
	store    storage.RecordStore
	embedder Embedder
	index    storage.VectorIndex
	logger   *zap.Logger

	defaultMode  Mode
	defaultLimit int
	maxLimit     int

	mu      sync.Mutex
	retryAt time.Time

	lock       IndexLock
	background sync.WaitGroup
}

// New creates an Engine. emb and index may be nil, in which case only
// keyword search is available.
func New(store storage.RecordStore, emb Embedder, index storage.VectorIndex, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		embedder:     emb,
		index:        index,
		logger:       zap.NewNop(),
		defaultMode:  ModeHybrid,
		defaultLimit: config.DefaultSearchLimit,
		maxLimit:     config.DefaultMaxLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SemanticAvailable reports whether queries can be embedded and matched
// against the vector index. It initializes the embedder on first use.
func (e *Engine) SemanticAvailable(ctx context.Context) bool {
	if e.embedder == nil || e.index == nil || !e.index.IsAvailable() {
		return false
	}

	e.mu.Lock()
	waiting := time.Now().Before(e.retryAt)
	e.mu.Unlock()
	if waiting {
		return false
	}

	if err := e.embedder.Initialize(ctx); err != nil {
		e.logger.Warn("embedding service unavailable, semantic search disabled",
			zap.Error(err), zap.Duration("retry_in", semanticRetryInterval))
		e.mu.Lock()
		e.retryAt = time.Now().Add(semanticRetryInterval)
		e.mu.Unlock()
		return false
	}
	return true
}

// Search runs a query in the requested mode, falling back to keyword search
// when semantic infrastructure is missing.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := e.validateRequest(&req); err != nil {
		return nil, err
	}

	response := &SearchResponse{RequestedMode: req.Mode, Mode: req.Mode}

	if req.Mode != ModeKeyword && !e.SemanticAvailable(ctx) {
		if req.Mode == ModeSemantic {
			response.Warning = semanticFallbackWarning
			e.logger.Warn("semantic search requested but unavailable, using keyword search",
				zap.String("query", req.Query))
		}
		response.Mode = ModeKeyword
	}

	minScore := DefaultMinScore(response.Mode)
	if req.MinScore != nil {
		minScore = *req.MinScore
	}

	var err error
	switch response.Mode {
	case ModeKeyword:
		err = e.runKeyword(ctx, req, response)
	case ModeSemantic:
		err = e.runSemantic(ctx, req, minScore, response)
	case ModeHybrid:
		err = e.runHybrid(ctx, req, minScore, response)
	}
	if err != nil {
		return nil, err
	}

	response.TotalResults = len(response.Results)
	response.Duration = time.Since(startTime)
	return response, nil
}

func (e *Engine) runKeyword(ctx context.Context, req SearchRequest, resp *SearchResponse) error {
	results, err := e.keywordSearch(ctx, req.Query, req.Filters, req.Limit)
	if err != nil {
		return err
	}
	resp.Results = results
	resp.KeywordResults = len(results)
	return nil
}

func (e *Engine) runSemantic(ctx context.Context, req SearchRequest, minScore float64, resp *SearchResponse) error {
	results, err := e.semanticSearch(ctx, req.Query, req.Filters, req.Limit, minScore)
	if err != nil {
		// Keyword search is always a valid reduced answer
		e.logger.Warn("semantic search failed, using keyword search", zap.Error(err))
		resp.Mode = ModeKeyword
		resp.Warning = semanticFallbackWarning
		return e.runKeyword(ctx, req, resp)
	}
	resp.Results = results
	resp.SemanticResults = len(results)
	return nil
}

// runHybrid fetches 2×limit candidates from both sides concurrently and
// fuses them. One failing side degrades to the other.
func (e *Engine) runHybrid(ctx context.Context, req SearchRequest, minScore float64, resp *SearchResponse) error {
	candidates := req.Limit * 2

	var (
		keyword, semantic       []types.SearchResult
		keywordErr, semanticErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		keyword, keywordErr = e.keywordSearch(ctx, req.Query, req.Filters, candidates)
		return nil
	})
	g.Go(func() error {
		semantic, semanticErr = e.semanticSearch(ctx, req.Query, req.Filters, candidates, minScore)
		return nil
	})
	_ = g.Wait()

	if keywordErr != nil && semanticErr != nil {
		return fmt.Errorf("both searches failed: keyword=%w, semantic=%v", keywordErr, semanticErr)
	}
	if semanticErr != nil {
		e.logger.Warn("semantic side of hybrid search failed", zap.Error(semanticErr))
	}
	if keywordErr != nil {
		e.logger.Warn("keyword side of hybrid search failed", zap.Error(keywordErr))
	}

	resp.KeywordResults = len(keyword)
	resp.SemanticResults = len(semantic)
	resp.Results = fuseRRF(keyword, semantic, req.Limit)
	return nil
}

// keywordSearch scores store hits by rank: for N hits the i-th scores (N-i)/N
func (e *Engine) keywordSearch(ctx context.Context, query string, filters types.SearchFilters, limit int) ([]types.SearchResult, error) {
	entries, err := e.store.SearchFullText(ctx, query, filters, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}

	n := len(entries)
	results := make([]types.SearchResult, 0, n)
	for i, entry := range entries {
		score := float64(n-i) / float64(n)
		results = append(results, types.SearchResult{
			Entry:     entry,
			Score:     score,
			Breakdown: types.ScoreBreakdown{Keyword: score},
		})
	}
	return results, nil
}

// semanticSearch over-fetches 2×limit neighbours so filter rejection still
// leaves enough candidates, then filters and truncates.
func (e *Engine) semanticSearch(ctx context.Context, query string, filters types.SearchFilters, limit int, minScore float64) ([]types.SearchResult, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	hits, err := e.index.Search(ctx, vector, limit*2)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]types.SearchResult, 0, limit)
	for _, hit := range hits {
		if len(results) >= limit {
			break
		}
		if hit.Similarity < minScore {
			continue
		}
		entry, err := e.store.GetEntry(ctx, hit.EntryID)
		if errors.Is(err, storage.ErrNotFound) {
			// Vector outlived its record
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load entry %s: %w", hit.EntryID, err)
		}
		if !filters.Matches(entry) {
			continue
		}
		results = append(results, types.SearchResult{
			Entry:     entry,
			Score:     hit.Similarity,
			Breakdown: types.ScoreBreakdown{Semantic: hit.Similarity},
		})
	}
	return results, nil
}

// fuseRRF merges two ranked lists. Each appearance at 0-based rank r adds
// 1/(k+r+1); ties keep discovery order, keyword list first.
func fuseRRF(keyword, semantic []types.SearchResult, limit int) []types.SearchResult {
	fused := make(map[string]*types.SearchResult, len(keyword)+len(semantic))
	order := make([]string, 0, len(keyword)+len(semantic))

	add := func(list []types.SearchResult, apply func(dst *types.SearchResult, src types.SearchResult)) {
		for rank, r := range list {
			id := r.Entry.ID
			dst, ok := fused[id]
			if !ok {
				dst = &types.SearchResult{Entry: r.Entry}
				fused[id] = dst
				order = append(order, id)
			}
			dst.Score += 1.0 / float64(RRFConstant+rank+1)
			apply(dst, r)
		}
	}
	add(keyword, func(dst *types.SearchResult, src types.SearchResult) {
		dst.Breakdown.Keyword = src.Breakdown.Keyword
	})
	add(semantic, func(dst *types.SearchResult, src types.SearchResult) {
		dst.Breakdown.Semantic = src.Breakdown.Semantic
	})

	results := make([]types.SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, *fused[id])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// validateRequest applies defaults and bounds
func (e *Engine) validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = e.defaultLimit
	}
	if req.Limit > e.maxLimit {
		req.Limit = e.maxLimit
	}

	if req.Mode == "" {
		req.Mode = e.defaultMode
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode

	return nil
}

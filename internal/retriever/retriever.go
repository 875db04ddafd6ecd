package retriever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/config"
	"github.com/dshills/kbase/internal/logging"
	"github.com/dshills/kbase/internal/searcher"
	"github.com/dshills/kbase/internal/storage"
	"github.com/dshills/kbase/pkg/types"
)

// CharsPerToken approximates tokenizer output. It is a heuristic, not a
// tokenizer: budgets are estimates.
const CharsPerToken = 4

const (
	// MinRelevance is the semantic floor for context candidates, stricter
	// than any search default
	MinRelevance = 0.15

	// RelatedRelevance marks entries reached through relations
	RelatedRelevance = 0.5

	// relatedHeadroom is the share of the token budget below which related
	// entries are still pulled in
	relatedHeadroom = 0.8
)

// TruncationMarker ends content cut to fit the budget
const TruncationMarker = "\n...[truncated]"

// Searcher runs the candidate search. *searcher.Engine satisfies it.
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// RelationSource resolves graph neighbours. *storage.SQLiteStorage satisfies it.
type RelationSource interface {
	GetRelations(ctx context.Context, entryID string) ([]*types.Relation, error)
	GetEntry(ctx context.Context, id string) (*types.Entry, error)
}

// RetrieveRequest describes one context retrieval
type RetrieveRequest struct {
	Query          string
	MaxTokens      int
	MaxItems       int
	Filters        types.SearchFilters
	IncludeRelated bool
}

// Option configures a Retriever
type Option func(*Retriever)

// WithLogger sets the retriever logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		r.logger = logging.OrNop(l)
	}
}

// WithContextConfig applies configured budget defaults
func WithContextConfig(cfg config.ContextConfig) Option {
	return func(r *Retriever) {
		if cfg.MaxTokens > 0 {
			r.maxTokens = cfg.MaxTokens
		}
		if cfg.MaxItems > 0 {
			r.maxItems = cfg.MaxItems
		}
	}
}

// Retriever assembles token-bounded context bundles
type Retriever struct {
	engine    Searcher
	relations RelationSource
	logger    *zap.Logger

	maxTokens int
	maxItems  int
}

// New creates a Retriever. relations may be nil, which disables related
// entry expansion.
func New(engine Searcher, relations RelationSource, opts ...Option) *Retriever {
	r := &Retriever{
		engine:    engine,
		relations: relations,
		logger:    zap.NewNop(),
		maxTokens: config.DefaultMaxTokens,
		maxItems:  config.DefaultMaxItems,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EstimateTokens returns ceil(chars/CharsPerToken)
func EstimateTokens(s string) int {
	return tokensForChars(utf8.RuneCountInString(s))
}

func tokensForChars(chars int) int {
	return int(math.Ceil(float64(chars) / CharsPerToken))
}

// headerChars counts the metadata kept even when content is cut
func headerChars(item types.ContextItem) int {
	n := utf8.RuneCountInString(item.Title) + utf8.RuneCountInString(item.Type)
	for _, tag := range item.Tags {
		n += utf8.RuneCountInString(tag)
	}
	return n
}

// ItemTokens estimates the cost of an item over title, type, content and tags
func ItemTokens(item types.ContextItem) int {
	return tokensForChars(headerChars(item) + utf8.RuneCountInString(item.Content))
}

// truncateItem cuts content so the item fits in budget tokens. It fails
// when the header and marker alone do not fit.
func truncateItem(item types.ContextItem, budget int) (types.ContextItem, bool) {
	room := budget*CharsPerToken - headerChars(item) - utf8.RuneCountInString(TruncationMarker)
	if room < 0 {
		return item, false
	}

	content := []rune(item.Content)
	if room < len(content) {
		content = content[:room]
	}
	item.Content = string(content) + TruncationMarker
	item.Truncated = true
	item.Tokens = ItemTokens(item)
	return item, true
}

// packer accumulates items under the token and item budgets
type packer struct {
	maxTokens int
	maxItems  int

	items []types.ContextItem
	total int
	seen  map[string]bool
}

func (p *packer) full() bool {
	return len(p.items) >= p.maxItems
}

func (p *packer) fits(item types.ContextItem) bool {
	return p.total+item.Tokens <= p.maxTokens
}

func (p *packer) add(item types.ContextItem) {
	p.items = append(p.items, item)
	p.total += item.Tokens
	p.seen[item.ID] = true
}

// Retrieve searches for candidates and packs them greedily in score order.
// The first candidate that overflows the budget is included in truncated
// form and packing stops there.
func (r *Retriever) Retrieve(ctx context.Context, req RetrieveRequest) (*types.ContextRetrievalResult, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = r.maxTokens
	}
	if req.MaxItems <= 0 {
		req.MaxItems = r.maxItems
	}

	minScore := MinRelevance
	resp, err := r.engine.Search(ctx, searcher.SearchRequest{
		Query:    req.Query,
		Mode:     searcher.ModeHybrid,
		Filters:  req.Filters,
		Limit:    req.MaxItems * 2,
		MinScore: &minScore,
	})
	if err != nil {
		return nil, fmt.Errorf("context search failed: %w", err)
	}
	candidates := resp.Results

	p := &packer{
		maxTokens: req.MaxTokens,
		maxItems:  req.MaxItems,
		seen:      make(map[string]bool),
	}

	for _, candidate := range candidates {
		if p.full() {
			break
		}
		if p.seen[candidate.Entry.ID] {
			continue
		}

		item := types.NewContextItem(candidate.Entry, candidate.Score)
		item.Tokens = ItemTokens(item)

		if !p.fits(item) {
			if cut, ok := truncateItem(item, p.maxTokens-p.total); ok {
				p.add(cut)
			}
			break
		}
		p.add(item)

		if req.IncludeRelated && r.relations != nil && !p.full() &&
			float64(p.total) < relatedHeadroom*float64(p.maxTokens) {
			r.addRelated(ctx, p, candidate.Entry.ID)
		}
	}

	included := 0
	for _, candidate := range candidates {
		if p.seen[candidate.Entry.ID] {
			included++
		}
	}

	r.logger.Debug("context assembled",
		zap.String("query", req.Query),
		zap.String("mode", string(resp.Mode)),
		zap.Int("candidates", len(candidates)),
		zap.Int("items", len(p.items)),
		zap.Int("tokens", p.total))

	return &types.ContextRetrievalResult{
		Items:               p.items,
		TotalTokensEstimate: p.total,
		Truncated:           len(candidates) > included,
	}, nil
}

// addRelated admits whole neighbours of entryID while budget and slots
// allow. Lookup failures are logged and skipped.
func (r *Retriever) addRelated(ctx context.Context, p *packer, entryID string) {
	relations, err := r.relations.GetRelations(ctx, entryID)
	if err != nil {
		r.logger.Warn("failed to load relations", zap.String("entry_id", entryID), zap.Error(err))
		return
	}

	for _, rel := range relations {
		if p.full() {
			return
		}
		otherID := rel.Other(entryID)
		if p.seen[otherID] {
			continue
		}

		entry, err := r.relations.GetEntry(ctx, otherID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("failed to load related entry", zap.String("entry_id", otherID), zap.Error(err))
			continue
		}

		item := types.NewContextItem(entry, RelatedRelevance)
		item.Related = true
		item.Tokens = ItemTokens(item)
		if !p.fits(item) {
			continue
		}
		p.add(item)
	}
}

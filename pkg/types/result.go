package types

import "time"

// ScoreBreakdown holds the per-signal components of a search score
type ScoreBreakdown struct {
	Semantic float64 // Cosine similarity, 0 when the entry had no semantic hit
	Keyword  float64 // Rank-normalized [0, 1], 0 when the entry had no keyword hit
}

// SearchResult represents a single search result with relevance information
type SearchResult struct {
	Entry *Entry

	// Score is mode dependent: similarity (semantic), rank weight (keyword)
	// or fused RRF score (hybrid).
	Score     float64
	Breakdown ScoreBreakdown
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Entry == nil {
		return ErrMissingEntry
	}

	if sr.Breakdown.Keyword < 0 || sr.Breakdown.Keyword > 1 {
		return ErrInvalidRelevanceScore
	}

	return nil
}

// ContextItem is a projection of an entry prepared for a language model
type ContextItem struct {
	ID        string
	Title     string
	Type      string
	Content   string
	Tags      []string
	Relevance float64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time

	Related   bool // Pulled in through the relation graph, not matched directly
	Truncated bool // Content was cut to fit the token budget
	Tokens    int  // Estimated token cost counted against the budget
}

// ContextRetrievalResult is a token-bounded bundle of context items
type ContextRetrievalResult struct {
	Items               []ContextItem
	TotalTokensEstimate int
	// Truncated is true iff search produced more candidates than were included
	Truncated bool
}

// NewContextItem projects an entry into a context item
func NewContextItem(e *Entry, relevance float64) ContextItem {
	tags := make([]string, len(e.Tags))
	copy(tags, e.Tags)
	return ContextItem{
		ID:        e.ID,
		Title:     e.Title,
		Type:      e.Type,
		Content:   e.Content,
		Tags:      tags,
		Relevance: relevance,
		Status:    e.Status,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

package types

import "errors"

// Domain errors for type validation
var (
	// Entry errors
	ErrMissingEntryID = errors.New("entry ID is required")
	ErrEmptyTitle     = errors.New("entry title cannot be empty")
	ErrEmptyType      = errors.New("entry type cannot be empty")

	// Relation errors
	ErrInvalidRelation = errors.New("relation requires distinct source and target")

	// Search result errors
	ErrMissingEntry          = errors.New("search result entry is required")
	ErrInvalidRelevanceScore = errors.New("keyword score must be between 0 and 1")
)

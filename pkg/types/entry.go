package types

import (
	"strings"
	"time"
)

// Entry statuses
const (
	StatusActive     = "active"
	StatusArchived   = "archived"
	StatusDeprecated = "deprecated"
)

// Entry represents a stored knowledge record
type Entry struct {
	ID        string
	ProjectID string // Empty for entries outside any project

	Title   string
	Type    string // Typed category: note, decision, snippet, ...
	Status  string
	Content string
	Summary string // Optional context summary, preferred over content for embedding
	Tags    []string

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields the record store requires
func (e *Entry) Validate() error {
	if e.ID == "" {
		return ErrMissingEntryID
	}
	if strings.TrimSpace(e.Title) == "" {
		return ErrEmptyTitle
	}
	if e.Type == "" {
		return ErrEmptyType
	}
	return nil
}

// Project groups entries
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Relation is a directed edge between two entries
type Relation struct {
	ID        string
	SourceID  string
	TargetID  string
	Type      string // relates_to, depends_on, supersedes, ...
	CreatedAt time.Time
}

// Validate checks that the relation connects two different entries
func (r *Relation) Validate() error {
	if r.SourceID == "" || r.TargetID == "" || r.SourceID == r.TargetID {
		return ErrInvalidRelation
	}
	return nil
}

// Other returns the entry on the opposite end of the relation from id
func (r *Relation) Other(id string) string {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// SearchFilters narrows search and listing. Empty fields impose no constraint.
type SearchFilters struct {
	ProjectID string
	Type      string
	Status    string
}

// Matches reports whether the entry satisfies every set filter
func (f SearchFilters) Matches(e *Entry) bool {
	if e == nil {
		return false
	}
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/kbase/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// MaxPageSize caps a single ListEntries page
const MaxPageSize = 500

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage opens the database at dbPath and applies migrations.
// ":memory:" gives a private in-memory store.
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// DB exposes the connection so a co-located vector index can share it
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// withTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// isUniqueViolation matches the constraint error text of both SQLite drivers
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Project operations

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *types.Project) error {
	if strings.TrimSpace(project.Name) == "" {
		return fmt.Errorf("project name cannot be empty")
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}

	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, project.ID, project.Name, project.Description, ts, ts)
	if isUniqueViolation(err) {
		return fmt.Errorf("project %q: %w", project.Name, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	project.CreatedAt = ts
	project.UpdatedAt = ts
	return nil
}

func (s *SQLiteStorage) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var project types.Project
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM projects
		WHERE id = ?
	`, id).Scan(&project.ID, &project.Name, &project.Description, &project.CreatedAt, &project.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// Entry operations

const entryColumns = `e.id, e.project_id, e.title, e.type, e.status, e.content, e.summary,
		       e.tags, e.version, e.created_at, e.updated_at`

func scanEntry(row scanner) (*types.Entry, error) {
	var entry types.Entry
	var projectID sql.NullString
	var tags string
	err := row.Scan(
		&entry.ID, &projectID, &entry.Title, &entry.Type, &entry.Status,
		&entry.Content, &entry.Summary, &tags, &entry.Version,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.ProjectID = projectID.String
	if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
		return nil, fmt.Errorf("entry %s has malformed tags: %w", entry.ID, err)
	}
	return &entry, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateEntry inserts a new entry, assigning an id when none is set
func (s *SQLiteStorage) CreateEntry(ctx context.Context, entry *types.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = types.StatusActive
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	tags, err := encodeTags(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	ts := now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (id, project_id, title, type, status, content, summary, tags, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, entry.ID, nullString(entry.ProjectID), entry.Title, entry.Type, entry.Status,
		entry.Content, entry.Summary, tags, ts, ts)
	if isUniqueViolation(err) {
		return fmt.Errorf("entry %s: %w", entry.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}

	entry.Version = 1
	entry.CreatedAt = ts
	entry.UpdatedAt = ts
	return nil
}

// UpdateEntry overwrites the mutable fields and bumps the version
func (s *SQLiteStorage) UpdateEntry(ctx context.Context, entry *types.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.Status == "" {
		entry.Status = types.StatusActive
	}
	tags, err := encodeTags(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	ts := now()
	return s.withTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE entries
			SET project_id = ?, title = ?, type = ?, status = ?, content = ?, summary = ?,
			    tags = ?, version = version + 1, updated_at = ?
			WHERE id = ?
		`, nullString(entry.ProjectID), entry.Title, entry.Type, entry.Status,
			entry.Content, entry.Summary, tags, ts, entry.ID)
		if err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := q.QueryRowContext(ctx, "SELECT version FROM entries WHERE id = ?", entry.ID).Scan(&entry.Version); err != nil {
			return err
		}
		entry.UpdatedAt = ts
		return nil
	})
}

func (s *SQLiteStorage) DeleteEntry(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) GetEntry(ctx context.Context, id string) (*types.Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM entries e WHERE e.id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// applyEntryFilters adds WHERE clause filters on the entries alias e
func applyEntryFilters(query string, args []interface{}, filters types.SearchFilters) (string, []interface{}) {
	if filters.ProjectID != "" {
		query += " AND e.project_id = ?"
		args = append(args, filters.ProjectID)
	}
	if filters.Type != "" {
		query += " AND e.type = ?"
		args = append(args, filters.Type)
	}
	if filters.Status != "" {
		query += " AND e.status = ?"
		args = append(args, filters.Status)
	}
	return query, args
}

func (s *SQLiteStorage) ListEntries(ctx context.Context, filters types.SearchFilters, page Page) (*EntryPage, error) {
	if page.Limit <= 0 || page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	if page.Offset < 0 {
		page.Offset = 0
	}

	countQuery, countArgs := applyEntryFilters("SELECT COUNT(*) FROM entries e WHERE 1=1", nil, filters)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	query, args := applyEntryFilters("SELECT "+entryColumns+" FROM entries e WHERE 1=1", nil, filters)
	query += " ORDER BY e.seq LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return &EntryPage{Entries: entries, Total: total}, nil
}

// SearchFullText runs a BM25-ranked FTS5 query. Any term may match.
func (s *SQLiteStorage) SearchFullText(ctx context.Context, query string, filters types.SearchFilters, limit int) ([]*types.Entry, error) {
	match := sanitizeFTSQuery(query)
	if match == "" || limit <= 0 {
		return []*types.Entry{}, nil
	}

	// bm25 is lower-is-better; seq breaks ties in insertion order
	sqlQuery := `
		SELECT ` + entryColumns + `
		FROM entries_fts
		JOIN entries e ON e.seq = entries_fts.rowid
		WHERE entries_fts MATCH ?`
	args := []interface{}{match}
	sqlQuery, args = applyEntryFilters(sqlQuery, args, filters)
	sqlQuery += " ORDER BY bm25(entries_fts), e.seq LIMIT ?"
	args = append(args, limit)

	entries, err := s.queryEntries(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStorage) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*types.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]*types.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Relation operations

func (s *SQLiteStorage) CreateRelation(ctx context.Context, relation *types.Relation) error {
	if err := relation.Validate(); err != nil {
		return err
	}
	if relation.ID == "" {
		relation.ID = uuid.NewString()
	}
	if relation.Type == "" {
		relation.Type = "relates_to"
	}

	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relations (id, source_id, target_id, type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, relation.ID, relation.SourceID, relation.TargetID, relation.Type, ts)
	if isUniqueViolation(err) {
		return fmt.Errorf("relation %s -> %s: %w", relation.SourceID, relation.TargetID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("failed to create relation: %w", err)
	}
	relation.CreatedAt = ts
	return nil
}

func (s *SQLiteStorage) DeleteRelation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM relations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete relation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) GetRelations(ctx context.Context, entryID string) ([]*types.Relation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, target_id, type, created_at
		FROM relations
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, id
	`, entryID, entryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	relations := make([]*types.Relation, 0)
	for rows.Next() {
		var r types.Relation
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.CreatedAt); err != nil {
			return nil, err
		}
		relations = append(relations, &r)
	}
	return relations, rows.Err()
}

// Status operations

func (s *SQLiteStorage) Status(ctx context.Context) (*Status, error) {
	status := &Status{}

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	counts := []struct {
		table string
		dest  *int
	}{
		{"projects", &status.ProjectsCount},
		{"entries", &status.EntriesCount},
		{"relations", &status.RelationsCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{
		DatabaseAccessible: true,
		FTSIndexBuilt:      true, // FTS index is created with migrations
	}
	return status, nil
}

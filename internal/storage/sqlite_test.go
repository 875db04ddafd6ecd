package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/kbase/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(context.Background(), ":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func createEntry(t *testing.T, s *SQLiteStorage, title, typ, content string, tags ...string) *types.Entry {
	t.Helper()
	entry := &types.Entry{Title: title, Type: typ, Content: content, Tags: tags}
	require.NoError(t, s.CreateEntry(context.Background(), entry))
	return entry
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.DB())

	version, err := SchemaVersion(context.Background(), storage.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, storage.DB()))

	var n int
	require.NoError(t, storage.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&n))
	assert.Equal(t, len(AllMigrations), n)
}

func TestRollbackMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, RollbackMigration(ctx, storage.DB()))
	version, err := SchemaVersion(ctx, storage.DB())
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)

	_, err = storage.DB().ExecContext(ctx, "SELECT 1 FROM relations")
	assert.Error(t, err, "relations table should be dropped")

	require.NoError(t, ApplyMigrations(ctx, storage.DB()))
	version, err = SchemaVersion(ctx, storage.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
}

func TestProjects(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	project := &types.Project{Name: "kbase", Description: "knowledge base"}
	require.NoError(t, storage.CreateProject(ctx, project))
	assert.NotEmpty(t, project.ID)
	assert.False(t, project.CreatedAt.IsZero())

	got, err := storage.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "kbase", got.Name)
	assert.Equal(t, "knowledge base", got.Description)

	err = storage.CreateProject(ctx, &types.Project{Name: "kbase"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = storage.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, storage.CreateProject(ctx, &types.Project{Name: "  "}))
}

func TestCreateAndGetEntry(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	project := &types.Project{Name: "p"}
	require.NoError(t, storage.CreateProject(ctx, project))

	entry := &types.Entry{
		ProjectID: project.ID,
		Title:     "Use WAL mode",
		Type:      "decision",
		Content:   "SQLite runs in WAL mode for concurrent readers.",
		Summary:   "WAL for concurrency",
		Tags:      []string{"sqlite", "storage"},
	}
	require.NoError(t, storage.CreateEntry(ctx, entry))
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, types.StatusActive, entry.Status)

	got, err := storage.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.Title, got.Title)
	assert.Equal(t, project.ID, got.ProjectID)
	assert.Equal(t, []string{"sqlite", "storage"}, got.Tags)
	assert.Equal(t, "WAL for concurrency", got.Summary)

	_, err = storage.GetEntry(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateEntryValidation(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		entry   *types.Entry
		wantErr error
	}{
		{name: "empty title", entry: &types.Entry{Type: "note"}, wantErr: types.ErrEmptyTitle},
		{name: "empty type", entry: &types.Entry{Title: "t"}, wantErr: types.ErrEmptyType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, storage.CreateEntry(ctx, tt.entry), tt.wantErr)
		})
	}

	dup := createEntry(t, storage, "a", "note", "")
	err := storage.CreateEntry(ctx, &types.Entry{ID: dup.ID, Title: "b", Type: "note"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestEntryWithoutTags(t *testing.T) {
	storage := setupTestDB(t)
	entry := createEntry(t, storage, "No tags", "note", "body")

	got, err := storage.GetEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
}

func TestUpdateEntry(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	entry := createEntry(t, storage, "Original", "note", "old body")
	entry.Title = "Renamed"
	entry.Content = "new body"
	entry.Status = types.StatusArchived
	require.NoError(t, storage.UpdateEntry(ctx, entry))
	assert.Equal(t, 2, entry.Version)

	got, err := storage.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, types.StatusArchived, got.Status)
	assert.Equal(t, 2, got.Version)

	// FTS follows the update
	hits, err := storage.SearchFullText(ctx, "renamed", types.SearchFilters{}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	hits, err = storage.SearchFullText(ctx, "original", types.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	missing := &types.Entry{ID: "missing", Title: "x", Type: "note"}
	assert.ErrorIs(t, storage.UpdateEntry(ctx, missing), ErrNotFound)
}

func TestDeleteEntry(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := createEntry(t, storage, "Alpha", "note", "first")
	b := createEntry(t, storage, "Beta", "note", "second")
	require.NoError(t, storage.CreateRelation(ctx, &types.Relation{SourceID: a.ID, TargetID: b.ID}))

	require.NoError(t, storage.DeleteEntry(ctx, a.ID))
	_, err := storage.GetEntry(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	relations, err := storage.GetRelations(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, relations, "relations cascade with the entry")

	hits, err := storage.SearchFullText(ctx, "alpha", types.SearchFilters{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.ErrorIs(t, storage.DeleteEntry(ctx, a.ID), ErrNotFound)
}

func TestListEntries(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		typ := "note"
		if i%2 == 0 {
			typ = "decision"
		}
		createEntry(t, storage, "Entry", typ, "")
	}

	page, err := storage.ListEntries(ctx, types.SearchFilters{}, Page{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3)
	assert.Equal(t, 7, page.Total)
	assert.True(t, page.HasMore(Page{Limit: 3}))

	last, err := storage.ListEntries(ctx, types.SearchFilters{}, Page{Offset: 6, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, last.Entries, 1)
	assert.False(t, last.HasMore(Page{Offset: 6, Limit: 3}))

	decisions, err := storage.ListEntries(ctx, types.SearchFilters{Type: "decision"}, Page{})
	require.NoError(t, err)
	assert.Equal(t, 4, decisions.Total)
	for _, e := range decisions.Entries {
		assert.Equal(t, "decision", e.Type)
	}
}

func TestSearchFullText(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	ts := createEntry(t, storage, "TypeScript config", "snippet", "tsconfig strict", "typescript")
	createEntry(t, storage, "Go modules", "note", "go.mod and versioning")
	archived := createEntry(t, storage, "Old TypeScript notes", "note", "typescript 3 era")
	archived.Status = types.StatusArchived
	require.NoError(t, storage.UpdateEntry(ctx, archived))

	t.Run("matches title and tags", func(t *testing.T) {
		hits, err := storage.SearchFullText(ctx, "TypeScript", types.SearchFilters{}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, ts.ID, hits[0].ID, "title plus tag match ranks first")
	})

	t.Run("any term may match", func(t *testing.T) {
		hits, err := storage.SearchFullText(ctx, "tsconfig versioning", types.SearchFilters{}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("filters apply", func(t *testing.T) {
		hits, err := storage.SearchFullText(ctx, "typescript", types.SearchFilters{Status: types.StatusActive}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, ts.ID, hits[0].ID)
	})

	t.Run("limit applies", func(t *testing.T) {
		hits, err := storage.SearchFullText(ctx, "typescript", types.SearchFilters{}, 1)
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})

	t.Run("operators and punctuation are inert", func(t *testing.T) {
		for _, q := range []string{`"unbalanced`, "NOT OR AND", "*", "go.mod (", "---"} {
			_, err := storage.SearchFullText(ctx, q, types.SearchFilters{}, 10)
			assert.NoError(t, err, "query %q", q)
		}
	})

	t.Run("no match", func(t *testing.T) {
		hits, err := storage.SearchFullText(ctx, "kubernetes", types.SearchFilters{}, 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

func TestRelations(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	a := createEntry(t, storage, "A", "note", "")
	b := createEntry(t, storage, "B", "note", "")
	c := createEntry(t, storage, "C", "note", "")

	ab := &types.Relation{SourceID: a.ID, TargetID: b.ID, Type: "depends_on"}
	require.NoError(t, storage.CreateRelation(ctx, ab))
	require.NoError(t, storage.CreateRelation(ctx, &types.Relation{SourceID: c.ID, TargetID: a.ID}))

	relations, err := storage.GetRelations(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, relations, 2)
	others := []string{relations[0].Other(a.ID), relations[1].Other(a.ID)}
	assert.ElementsMatch(t, []string{b.ID, c.ID}, others)

	err = storage.CreateRelation(ctx, &types.Relation{SourceID: a.ID, TargetID: b.ID, Type: "depends_on"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorIs(t, storage.CreateRelation(ctx, &types.Relation{SourceID: a.ID, TargetID: a.ID}), types.ErrInvalidRelation)

	require.NoError(t, storage.DeleteRelation(ctx, ab.ID))
	relations, err = storage.GetRelations(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, relations)
	assert.ErrorIs(t, storage.DeleteRelation(ctx, ab.ID), ErrNotFound)
}

func TestStatus(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, storage.CreateProject(ctx, &types.Project{Name: "p"}))
	a := createEntry(t, storage, "A", "note", "")
	b := createEntry(t, storage, "B", "note", "")
	require.NoError(t, storage.CreateRelation(ctx, &types.Relation{SourceID: a.ID, TargetID: b.ID}))

	status, err := storage.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, status.SchemaVersion)
	assert.Equal(t, 1, status.ProjectsCount)
	assert.Equal(t, 2, status.EntriesCount)
	assert.Equal(t, 1, status.RelationsCount)
	assert.True(t, status.Health.DatabaseAccessible)
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"typescript", `"typescript"`},
		{"go modules", `"go" OR "modules"`},
		{`say "hi"`, `"say" OR """hi"""`},
		{"NOT *", `"NOT"`},
		{"-- ()", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFTSQuery(tt.in))
		})
	}
}

// Package storage persists knowledge entries and their vectors.
//
// The record store is SQLite and manages:
//   - Projects that group entries
//   - Entries with title, type, status, content, summary and tags
//   - Directed relations between entries
//   - An FTS5 index over title, content, tags and summary
//
// Vectors live behind the VectorIndex interface. SQLiteVectorIndex shares the
// record store's database; PGVectorIndex uses PostgreSQL with pgvector.
//
// # Database Schema
//
// Tables:
//   - projects: Project name and description
//   - entries: Knowledge records, tags stored as a JSON array
//   - entries_fts: FTS5 index kept in sync by triggers
//   - relations: Edges between entries, cascading on delete
//   - entry_vectors: One vector per entry id, created by the vector index
//
// Schema changes are versioned migrations applied on open.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage(ctx, "~/.kbase/kbase.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	entry := &types.Entry{Title: "Use WAL mode", Type: "decision", Content: "..."}
//	if err := store.CreateEntry(ctx, entry); err != nil {
//	    return err
//	}
//
//	hits, err := store.SearchFullText(ctx, "wal sqlite", types.SearchFilters{}, 10)
//
// # Vector Index States
//
// A vector index is in one of three states:
//   - IndexUnavailable: disabled by config or unsupported by the backend.
//     Reads return empty results and writes are no-ops.
//   - IndexEmpty: ready but holding no vectors
//   - IndexPopulated: holding at least one vector
//
// Initialize never fails because vector search is missing; it moves the
// index to IndexUnavailable and logs why.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_vec tag switches to github.com/mattn/go-sqlite3 and lets the index
// rank in SQL when the sqlite-vec extension is loaded.
//
// # Concurrency
//
// SQLite runs in WAL mode with a single connection, so writes are serialized
// and the store is safe for concurrent use.
package storage

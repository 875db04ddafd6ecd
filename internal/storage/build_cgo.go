//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
// It enables the sqlite-vec extension for fast vector similarity search.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
//
// When the sqlite-vec extension is loaded into the connection, the vector
// index ranks entries with vec_distance_cosine in SQL. Without it the index
// detects the missing function at Initialize and computes distances in Go.
// FTS5 must be compiled in for the entries_fts table.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates the vector extension may be probed
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

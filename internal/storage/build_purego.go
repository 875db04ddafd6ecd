//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// It uses a pure Go SQLite implementation without the sqlite-vec extension.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// The pure Go driver needs no C compiler and ships FTS5. Vector distances
// are computed in Go, which is fine for knowledge bases of a few thousand
// entries.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

// Package app wires the storage, embedding, search and retrieval layers
// into one pipeline shared by the MCP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/config"
	"github.com/dshills/kbase/internal/embedder"
	"github.com/dshills/kbase/internal/logging"
	"github.com/dshills/kbase/internal/retriever"
	"github.com/dshills/kbase/internal/searcher"
	"github.com/dshills/kbase/internal/storage"
	"github.com/dshills/kbase/pkg/types"
)

// App holds the assembled pipeline
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      *storage.SQLiteStorage
	Index      storage.VectorIndex
	Embeddings *embedder.Service
	Engine     *searcher.Engine
	Retriever  *retriever.Retriever
}

// New opens the record store and vector index and builds the engine and
// retriever over them. The embedding provider is not contacted until the
// first semantic operation.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...embedder.ServiceOption) (*App, error) {
	logger = logging.OrNop(logger)

	dbPath := cfg.Storage.DatabasePath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	index, err := storage.NewVectorIndex(cfg.Vector, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	// Dimensions are left open: the provider is chosen lazily and rows of
	// other sizes are skipped at query time
	if err := index.Initialize(ctx, 0); err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	svcOpts := append([]embedder.ServiceOption{embedder.WithLogger(logger)}, opts...)
	svc, err := embedder.NewService(cfg.Embedding, svcOpts...)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	engine := searcher.New(store, svc, index,
		searcher.WithLogger(logger),
		searcher.WithSearchConfig(cfg.Search),
	)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Index:      index,
		Embeddings: svc,
		Engine:     engine,
		Retriever: retriever.New(engine, store,
			retriever.WithLogger(logger),
			retriever.WithContextConfig(cfg.Context),
		),
	}, nil
}

// CreateEntry stores a new entry and queues it for embedding. The record is
// committed even when indexing later fails.
func (a *App) CreateEntry(ctx context.Context, entry *types.Entry) error {
	if err := a.Store.CreateEntry(ctx, entry); err != nil {
		return err
	}
	a.indexAfterWrite(entry)
	return nil
}

// UpdateEntry overwrites an entry and re-embeds it in the background
func (a *App) UpdateEntry(ctx context.Context, entry *types.Entry) error {
	if err := a.Store.UpdateEntry(ctx, entry); err != nil {
		return err
	}
	a.indexAfterWrite(entry)
	return nil
}

// DeleteEntry removes an entry and its vector. A stale vector left behind
// by a failed removal is logged; searches drop hits without a record.
func (a *App) DeleteEntry(ctx context.Context, id string) error {
	if err := a.Store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	if err := a.Engine.RemoveEntry(ctx, id); err != nil {
		a.Logger.Warn("failed to remove vector", zap.String("entry_id", id), zap.Error(err))
	}
	return nil
}

// indexAfterWrite hands the worker its own copy so callers may keep
// mutating entry
func (a *App) indexAfterWrite(entry *types.Entry) {
	snapshot := *entry
	snapshot.Tags = append([]string(nil), entry.Tags...)
	a.Engine.IndexInBackground(&snapshot)
}

// Close waits for background indexing, then releases every resource
func (a *App) Close() error {
	a.Engine.Wait()
	return errors.Join(
		a.Embeddings.Close(),
		a.Index.Close(),
		a.Store.Close(),
	)
}

package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/config"
)

// NewVectorIndex builds the index selected by cfg.Backend. The sqlite backend
// shares store's connection. Call Initialize before use.
func NewVectorIndex(cfg config.VectorConfig, store *SQLiteStorage, logger *zap.Logger) (VectorIndex, error) {
	opts := []VectorIndexOption{
		WithVectorLogger(logger),
		WithVectorEnabled(cfg.EnabledOrDefault()),
	}

	switch strings.ToLower(cfg.Backend) {
	case "", config.BackendSQLite:
		return NewSQLiteVectorIndex(store.DB(), opts...), nil
	case config.BackendPGVector:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("vector backend %s requires postgres_dsn", config.BackendPGVector)
		}
		return NewPGVectorIndex(cfg.PostgresDSN, opts...)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

// Package store implements the sample-store adapter: the single
// operation the server session calls to turn an RFW into rows — given a
// benchmark name, a metrics-selection mask, a batch size and a batch
// index, return the corresponding rows.
package store

import (
	"context"
	"fmt"

	"github.com/coreflux/rfw-workload/internal/config"
	"github.com/coreflux/rfw-workload/internal/protocol"
	"go.uber.org/zap"
)

// Columns is the fixed schema column order backing the dataset table,
// mirroring the teacher's fixed COLUMNS tuple for its own tables.
var Columns = []string{"cpu", "net_in", "net_out", "memory", "source"}

// Batch is the sample store's answer to one GetBatch call: the ordered
// enabled column names and the rows aligned to them. A row count less
// than batchUnit signals the source is exhausted.
type Batch struct {
	Keys []string
	Rows [][]float64
}

// Store is the contract the server session depends on. Every other
// component sees only plain rows, never SQL.
type Store interface {
	// GetBatch returns at most batchUnit rows, skipping
	// batchUnit*batchID rows of the subset whose source label has
	// benchType as a literal prefix. mask must be non-zero.
	GetBatch(ctx context.Context, benchType string, mask uint8, batchUnit, batchID int) (Batch, error)
	Close() error
}

// Open constructs the configured backend and runs the bootstrap unless
// skipped.
func Open(ctx context.Context, cfg *config.ServerConfig, logger *zap.Logger) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.StoreType {
	case config.StoreSQLite:
		s, err = newSQLiteStore(cfg.StoreDSN, logger)
	case config.StorePostgres:
		s, err = newPostgresStore(ctx, cfg.StoreDSN, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.StoreType)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.SkipDB {
		if err := bootstrap(ctx, s, logger); err != nil {
			s.Close()
			return nil, fmt.Errorf("bootstrap sample store: %w", err)
		}
	}

	return newCachedStore(s, cfg.BatchCacheSize, logger)
}

func selectedColumns(mask uint8) ([]string, error) {
	if err := protocol.ValidMask(mask); err != nil {
		return nil, err
	}
	return protocol.SelectedColumns(mask), nil
}

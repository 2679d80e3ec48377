package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// postgresStore is the scale-out sample-store backend, for deployments
// that outgrow a single sqlite file. It implements the same Store
// contract via pgxpool, following the connection-pool setup the
// teacher's internal/database uses for its own Postgres branch.
type postgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func newPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*postgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres store: %w", err)
	}

	logger.Info("postgres sample store connected")
	return &postgresStore{pool: pool, logger: logger}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) GetBatch(ctx context.Context, benchType string, mask uint8, batchUnit, batchID int) (Batch, error) {
	cols, err := selectedColumns(mask)
	if err != nil {
		return Batch{}, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM workload WHERE source LIKE $1 LIMIT $2 OFFSET $3",
		strings.Join(cols, ", "),
	)
	rows, err := s.pool.Query(ctx, query, benchType+"%", batchUnit, batchUnit*batchID)
	if err != nil {
		return Batch{}, fmt.Errorf("query batch: %w", err)
	}
	defer rows.Close()

	var data [][]float64
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return Batch{}, fmt.Errorf("scan row: %w", err)
		}
		row := make([]float64, len(cols))
		for i, v := range vals {
			row[i] = toFloat64(v)
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return Batch{}, err
	}

	return Batch{Keys: cols, Rows: data}, nil
}

func (s *postgresStore) populated(ctx context.Context) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM workload").Scan(&count)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return false, nil
		}
		return false, err
	}
	return count > 0, nil
}

func (s *postgresStore) createTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS workload (
		id SERIAL PRIMARY KEY,
		cpu INTEGER,
		net_in INTEGER,
		net_out INTEGER,
		memory DOUBLE PRECISION,
		source TEXT
	)`)
	return err
}

func (s *postgresStore) insertRows(ctx context.Context, source string, rows [][4]float64) error {
	batch := make([][]any, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, []any{int(r[0]), int(r[1]), int(r[2]), r[3], source})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"workload"},
		[]string{"cpu", "net_in", "net_out", "memory", "source"},
		pgx.CopyFromRows(batch),
	)
	return err
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// sqliteStore is the default sample-store backend, following the
// pooling conventions of the teacher's internal/database SQLite branch.
type sqliteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func newSQLiteStore(dsn string, logger *zap.Logger) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 serializes writers; one conn avoids SQLITE_BUSY
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	logger.Info("sqlite sample store connected", zap.String("dsn", dsn))
	return &sqliteStore{db: db, logger: logger}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) GetBatch(ctx context.Context, benchType string, mask uint8, batchUnit, batchID int) (Batch, error) {
	cols, err := selectedColumns(mask)
	if err != nil {
		return Batch{}, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM workload WHERE source LIKE ? LIMIT ? OFFSET ?",
		strings.Join(cols, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, benchType+"%", batchUnit, batchUnit*batchID)
	if err != nil {
		return Batch{}, fmt.Errorf("query batch: %w", err)
	}
	defer rows.Close()

	var data [][]float64
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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

func (s *sqliteStore) populated(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workload").Scan(&count)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return false, nil
		}
		return false, err
	}
	return count > 0, nil
}

func (s *sqliteStore) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS workload (
		id INTEGER PRIMARY KEY,
		cpu INTEGER,
		net_in INTEGER,
		net_out INTEGER,
		memory REAL,
		source TEXT
	)`)
	return err
}

func (s *sqliteStore) insertRows(ctx context.Context, source string, rows [][4]float64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO workload (cpu, net_in, net_out, memory, source) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, int(r[0]), int(r[1]), int(r[2]), r[3], source); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	case []byte:
		// sqlite may hand back numeric text for REAL/INTEGER columns
		// depending on driver affinity resolution; protocol.SelectedColumns
		// already constrains us to the four numeric columns.
		var f float64
		fmt.Sscanf(string(n), "%f", &f)
		return f
	default:
		return 0
	}
}

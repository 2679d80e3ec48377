package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/protocol"
)

func newTestSQLiteStore(t *testing.T) *sqliteStore {
	t.Helper()
	s, err := newSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.createTable(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRows(t *testing.T, s *sqliteStore, source string, n int) {
	t.Helper()
	rows := make([][4]float64, n)
	for i := range rows {
		rows[i] = [4]float64{float64(i), float64(i * 2), float64(i * 3), float64(i) + 0.5}
	}
	require.NoError(t, s.insertRows(context.Background(), source, rows))
}

func TestGetBatchProjectsSelectedColumns(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedRows(t, s, "DVD-training", 250)

	b, err := s.GetBatch(context.Background(), "DVD-training", protocol.MaskCPU|protocol.MaskNetIn|protocol.MaskMemory, 100, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"cpu", "net_in", "memory"}, b.Keys)
	require.Len(t, b.Rows, 100)
	for _, row := range b.Rows {
		require.Len(t, row, 3)
	}
}

func TestGetBatchPrefixMatch(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedRows(t, s, "DVD-training", 10)
	seedRows(t, s, "NDBench-training", 10)

	b, err := s.GetBatch(context.Background(), "DVD", protocol.MaskCPU, 100, 0)
	require.NoError(t, err)
	require.Len(t, b.Rows, 10)
}

func TestGetBatchOffsetIsZeroBased(t *testing.T) {
	s := newTestSQLiteStore(t)
	seedRows(t, s, "DVD-training", 250)

	first, err := s.GetBatch(context.Background(), "DVD-training", protocol.MaskCPU, 100, 0)
	require.NoError(t, err)
	require.Len(t, first.Rows, 100)

	third, err := s.GetBatch(context.Background(), "DVD-training", protocol.MaskCPU, 100, 2)
	require.NoError(t, err)
	require.Len(t, third.Rows, 50) // 250 rows, batch_id=2 -> offset 200, 50 remain
}

func TestGetBatchRejectsZeroMask(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.GetBatch(context.Background(), "DVD-training", 0, 100, 0)
	require.Error(t, err)
}

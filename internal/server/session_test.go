package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/protocol"
	"github.com/coreflux/rfw-workload/internal/store"
)

// fakeStore returns totalRows rows per bench_type, sliced to (batch_unit, batch_id).
type fakeStore struct {
	totalRows int
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) GetBatch(ctx context.Context, benchType string, mask uint8, batchUnit, batchID int) (store.Batch, error) {
	if err := protocol.ValidMask(mask); err != nil {
		return store.Batch{}, err
	}
	keys := protocol.SelectedColumns(mask)
	offset := batchUnit * batchID
	remaining := f.totalRows - offset
	if remaining < 0 {
		remaining = 0
	}
	n := batchUnit
	if remaining < n {
		n = remaining
	}
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, len(keys))
		for j := range row {
			row[j] = float64(offset + i)
		}
		rows[i] = row
	}
	return store.Batch{Keys: keys, Rows: rows}, nil
}

func writeRFW(t *testing.T, conn net.Conn, rfwID uint32, proto protocol.Protocol, p protocol.RFWPayload) {
	t.Helper()
	payload, err := protocol.EncodeRFWPayload(proto, p)
	require.NoError(t, err)
	header := protocol.RFWHeader{RFWID: rfwID, Protocol: proto, PayloadSize: uint64(len(payload))}
	_, err = conn.Write(protocol.EncodeRFWHeader(header))
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func readRFD(t *testing.T, conn net.Conn) (protocol.RFDHeader, protocol.RFDPayload) {
	t.Helper()
	buf, err := protocol.ReadExactly(conn, protocol.RFDHeaderSize)
	require.NoError(t, err)
	header, err := protocol.DecodeRFDHeader(buf)
	require.NoError(t, err)
	if header.Marker == protocol.MarkerNOP {
		return header, protocol.RFDPayload{}
	}
	payloadBuf, err := protocol.ReadExactly(conn, int(header.PayloadSize))
	require.NoError(t, err)
	payload, err := protocol.DecodeRFDPayload(header.Protocol, payloadBuf)
	require.NoError(t, err)
	return header, payload
}

func TestSessionFullRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	st := &fakeStore{totalRows: 1000}
	sess := NewSession(serverConn, st, zap.NewNop(), 5)
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	writeRFW(t, clientConn, 7, protocol.JSON, protocol.RFWPayload{
		BenchType: "DVD-training", MetricsMask: protocol.MaskCPU | protocol.MaskNetIn | protocol.MaskMemory,
		BatchUnit: 100, BatchID: 0, BatchSize: 5,
	})

	for i := 0; i < 5; i++ {
		header, payload := readRFD(t, clientConn)
		require.Equal(t, protocol.MarkerRFD, header.Marker)
		require.Equal(t, uint32(7), header.RFWID)
		require.Equal(t, uint32(i), header.LastBatch)
		require.Len(t, payload.Data, 100)
	}

	<-done
}

func TestSessionEarlyTermination(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	st := &fakeStore{totalRows: 250}
	sess := NewSession(serverConn, st, zap.NewNop(), 5)
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	writeRFW(t, clientConn, 1, protocol.JSON, protocol.RFWPayload{
		BenchType: "DVD-training", MetricsMask: protocol.MaskCPU,
		BatchUnit: 100, BatchID: 0, BatchSize: 5,
	})

	_, p0 := readRFD(t, clientConn)
	require.Len(t, p0.Data, 100)
	_, p1 := readRFD(t, clientConn)
	require.Len(t, p1.Data, 100)
	_, p2 := readRFD(t, clientConn)
	require.Len(t, p2.Data, 50)

	<-done
}

func TestSessionSendsNOPOnMalformedHeaderThenServesValidRFW(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	st := &fakeStore{totalRows: 100}
	sess := NewSession(serverConn, st, zap.NewNop(), 5)
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	// Two malformed headers (bad marker).
	for i := 0; i < 2; i++ {
		bad := make([]byte, protocol.RFWHeaderSize)
		copy(bad, "XXX")
		_, err := clientConn.Write(bad)
		require.NoError(t, err)

		header, _ := readRFD(t, clientConn)
		require.Equal(t, protocol.MarkerNOP, header.Marker)
	}

	writeRFW(t, clientConn, 99, protocol.JSON, protocol.RFWPayload{
		BenchType: "DVD-training", MetricsMask: protocol.MaskCPU, BatchUnit: 100, BatchID: 0, BatchSize: 1,
	})

	header, payload := readRFD(t, clientConn)
	require.Equal(t, protocol.MarkerRFD, header.Marker)
	require.Len(t, payload.Data, 100)

	<-done
}

func TestSessionRejectsZeroMask(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	st := &fakeStore{totalRows: 100}
	sess := NewSession(serverConn, st, zap.NewNop(), 5)
	done := make(chan struct{})
	go func() {
		sess.Run(context.Background())
		close(done)
	}()

	writeRFW(t, clientConn, 1, protocol.JSON, protocol.RFWPayload{
		BenchType: "DVD-training", MetricsMask: 0, BatchUnit: 100, BatchID: 0, BatchSize: 1,
	})

	header, _ := readRFD(t, clientConn)
	require.Equal(t, protocol.MarkerNOP, header.Marker)

	clientConn.Close()
	<-done
}

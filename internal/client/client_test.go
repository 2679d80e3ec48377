package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/circuitbreaker"
	"github.com/coreflux/rfw-workload/internal/netkit"
	"github.com/coreflux/rfw-workload/internal/protocol"
)

func TestCursorResumeArithmetic(t *testing.T) {
	req := Request{BatchID: 10, BatchSize: 5}
	c := newCursor(req)
	c.onBatchReceived()
	c.onBatchReceived()
	require.False(t, c.complete())

	c.resume()
	require.Equal(t, 12, c.batchID)
	require.Equal(t, 3, c.batchSize)
	require.Equal(t, 0, c.batchRcv)
}

func TestCursorShortBatchMarksComplete(t *testing.T) {
	c := newCursor(Request{BatchID: 0, BatchSize: 5})
	c.onBatchReceived()
	c.markComplete()
	require.True(t, c.complete())
}

func TestWriterPoolWritesCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "batches")
	pool := NewWriterPool(dir, zap.NewNop())

	pool.Submit(Batch{
		RFWID: 42, BenchType: "DVD-training", BatchID: 0,
		Keys: []string{"cpu", "memory"},
		Data: [][]float64{{1, 2}, {3, 4}},
	})
	pool.Close()

	content, err := os.ReadFile(filepath.Join(dir, "42-DVD-training-0.csv"))
	require.NoError(t, err)
	require.Equal(t, "cpu,memory\n1,2\n3,4\n", string(content))
}

// fakeServer is a minimal RFD source for client session tests: it reads
// one RFW and streams a fixed number of rows per batch, dropping the
// connection after a configured number of batches to exercise
// reconnect-resume.
func fakeServer(t *testing.T, ln net.Listener, totalRows, batchUnit int, dropAfter int) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		buf, err := protocol.ReadExactly(conn, protocol.RFWHeaderSize)
		if err != nil {
			return
		}
		header, err := protocol.DecodeRFWHeader(buf)
		if err != nil {
			return
		}
		payloadBuf, err := protocol.ReadExactly(conn, int(header.PayloadSize))
		if err != nil {
			return
		}
		rfw, err := protocol.DecodeRFWPayload(header.Protocol, payloadBuf)
		if err != nil {
			return
		}

		keys := protocol.SelectedColumns(rfw.MetricsMask)
		sent := 0
		for i := 0; i < rfw.BatchSize; i++ {
			batchID := rfw.BatchID + i
			offset := batchUnit * batchID
			remaining := totalRows - offset
			if remaining < 0 {
				remaining = 0
			}
			n := batchUnit
			if remaining < n {
				n = remaining
			}
			rows := make([][]float64, n)
			for r := range rows {
				row := make([]float64, len(keys))
				for c := range row {
					row[c] = float64(offset + r)
				}
				rows[r] = row
			}

			payload, _ := protocol.EncodeRFDPayload(header.Protocol, protocol.RFDPayload{Keys: keys, Data: rows})
			rfdHeader := protocol.RFDHeader{
				Marker: protocol.MarkerRFD, RFWID: header.RFWID, LastBatch: uint32(batchID),
				Protocol: header.Protocol, PayloadSize: uint64(len(payload)),
			}
			conn.Write(protocol.EncodeRFDHeader(rfdHeader))
			conn.Write(payload)
			sent++

			if dropAfter > 0 && sent == dropAfter {
				return
			}
			if n < batchUnit {
				return
			}
		}
	}()
}

func TestSessionReconnectResume(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// First connection serves 2 batches then drops; client must
	// reconnect and resume at batch_id=2 against a fresh listener
	// accept.
	fakeServer(t, ln, 500, 100, 2)

	dir := t.TempDir()
	pool := NewWriterPool(dir, zap.NewNop())
	dialer := netkit.NewDialer(netkit.DefaultConfig(), zap.NewNop())
	breakers := circuitbreaker.NewRegistry(zap.NewNop())

	sess := NewSession(ln.Addr().String(), dialer, breakers, pool, zap.NewNop(), 5)

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(context.Background(), 1, Request{
			Protocol: protocol.JSON, BenchType: "DVD-training", MetricsMask: protocol.MaskCPU,
			BatchUnit: 100, BatchID: 0, BatchSize: 5,
		})
	}()

	// second connection resumes from batch_id=2 and serves the rest.
	time.Sleep(50 * time.Millisecond)
	fakeServer(t, ln, 500, 100, 0)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete in time")
	}
	pool.Close()

	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("1-DVD-training-%d.csv", i)
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
	}
}

// nopServer replies to every RFW on its one accepted connection with a
// NOP frame, forcing the client through its same-connection resend
// path until its retry budget is exhausted.
func nopServer(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			buf, err := protocol.ReadExactly(conn, protocol.RFWHeaderSize)
			if err != nil {
				return
			}
			header, err := protocol.DecodeRFWHeader(buf)
			if err != nil {
				return
			}
			if _, err := protocol.ReadExactly(conn, int(header.PayloadSize)); err != nil {
				return
			}

			nopHeader := protocol.RFDHeader{Marker: protocol.MarkerNOP, RFWID: header.RFWID, Protocol: header.Protocol}
			if _, err := conn.Write(protocol.EncodeRFDHeader(nopHeader)); err != nil {
				return
			}
		}
	}()
}

func TestSessionFailsAfterFiveConsecutiveNOPs(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	nopServer(t, ln)

	dir := t.TempDir()
	pool := NewWriterPool(dir, zap.NewNop())
	dialer := netkit.NewDialer(netkit.DefaultConfig(), zap.NewNop())
	breakers := circuitbreaker.NewRegistry(zap.NewNop())

	sess := NewSession(ln.Addr().String(), dialer, breakers, pool, zap.NewNop(), 5)

	runErr := sess.Run(context.Background(), 1, Request{
		Protocol: protocol.JSON, BenchType: "DVD-training", MetricsMask: protocol.MaskCPU,
		BatchUnit: 100, BatchID: 0, BatchSize: 5,
	})
	pool.Close()

	require.Error(t, runErr)
	require.True(t, errors.Is(runErr, errRetryBudgetExhausted))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

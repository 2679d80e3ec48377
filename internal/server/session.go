// Package server implements the per-connection RFW/RFD session state
// machine and the accept loop that spawns one session per connection.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/metrics"
	"github.com/coreflux/rfw-workload/internal/protocol"
	"github.com/coreflux/rfw-workload/internal/store"
)

// Session is the per-connection state machine: READ_HEADER ->
// READ_PAYLOAD -> STREAM_REPLIES -> DONE, with a FAILED -> READ_HEADER
// recovery arc guarded by a failure budget.
type Session struct {
	conn   net.Conn
	w      *bufio.Writer
	store  store.Store
	logger *zap.Logger

	maxFail int

	peer           string
	rfwID          *uint32
	failedAttempts int
}

// NewSession wraps an accepted connection in a session ready to Run.
func NewSession(conn net.Conn, st store.Store, logger *zap.Logger, maxFail int) *Session {
	return &Session{
		conn:    conn,
		w:       bufio.NewWriter(conn),
		store:   st,
		logger:  logger.With(zap.String("peer", conn.RemoteAddr().String())),
		maxFail: maxFail,
		peer:    conn.RemoteAddr().String(),
	}
}

// Run drives the session to completion: one successful RFW served, or
// the connection is closed by a failure budget or transport fault. It
// never returns an error — all outcomes are terminal and logged.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	metrics.SessionsStarted.Inc()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		header, err := s.readRFWHeader()
		if err != nil {
			if s.onFailure("invalid header", err) {
				return
			}
			continue
		}

		if s.rfwID == nil {
			id := header.RFWID
			s.rfwID = &id
		} else if *s.rfwID != header.RFWID {
			s.logger.Warn("rfw_id mismatch on retried submission",
				zap.Uint32("stored", *s.rfwID), zap.Uint32("received", header.RFWID))
		}

		payloadBuf, err := protocol.ReadExactly(s.conn, int(header.PayloadSize))
		if err != nil {
			if s.onFailure("short payload read", err) {
				return
			}
			continue
		}

		rfw, err := protocol.DecodeRFWPayload(header.Protocol, payloadBuf)
		if err != nil {
			if s.onFailure("payload decode error", err) {
				return
			}
			continue
		}
		if err := protocol.ValidMask(rfw.MetricsMask); err != nil {
			if s.onFailure("invalid metrics mask", err) {
				return
			}
			continue
		}

		if err := s.streamReplies(ctx, header.RFWID, header.Protocol, rfw); err != nil {
			s.logger.Error("session terminated by transport fault", zap.Error(err))
			metrics.SessionsFailed.WithLabelValues("io_error").Inc()
			return
		}

		return // one successful RFW per connection
	}
}

// onFailure logs and accounts a READ_HEADER/READ_PAYLOAD/decode fault,
// sends a NOP frame, and reports whether the budget is exhausted.
func (s *Session) onFailure(reason string, err error) bool {
	s.failedAttempts++
	s.logger.Debug(reason, zap.Error(err), zap.Int("failed_attempts", s.failedAttempts))

	if sendErr := s.sendNOP(); sendErr != nil {
		s.logger.Error("failed to send NOP", zap.Error(sendErr))
		metrics.SessionsFailed.WithLabelValues("io_error").Inc()
		return true
	}

	if s.failedAttempts > s.maxFail {
		s.logger.Warn("failure budget exhausted, closing session")
		metrics.SessionsFailed.WithLabelValues("budget_exhausted").Inc()
		return true
	}
	return false
}

func (s *Session) readRFWHeader() (protocol.RFWHeader, error) {
	buf, err := protocol.ReadExactly(s.conn, protocol.RFWHeaderSize)
	if err != nil {
		return protocol.RFWHeader{}, fmt.Errorf("read rfw header: %w", err)
	}
	return protocol.DecodeRFWHeader(buf)
}

func (s *Session) sendNOP() error {
	metrics.NopsSent.Inc()
	return s.writeRFD(protocol.NewNOPHeader(), nil)
}

// streamReplies implements STREAM_REPLIES: query the store for each of
// batch_size consecutive batches and flush an RFD for each, in order.
func (s *Session) streamReplies(ctx context.Context, rfwID uint32, proto protocol.Protocol, rfw protocol.RFWPayload) error {
	for i := 0; i < rfw.BatchSize; i++ {
		batchID := rfw.BatchID + i

		start := time.Now()
		batch, err := s.store.GetBatch(ctx, rfw.BenchType, rfw.MetricsMask, rfw.BatchUnit, batchID)
		metrics.BatchServeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("sample store query failed for batch %d: %w", batchID, err)
		}

		payload, err := protocol.EncodeRFDPayload(proto, protocol.RFDPayload{Keys: batch.Keys, Data: batch.Rows})
		if err != nil {
			return fmt.Errorf("encode rfd for batch %d: %w", batchID, err)
		}

		header := protocol.RFDHeader{
			Marker:      protocol.MarkerRFD,
			RFWID:       rfwID,
			LastBatch:   uint32(batchID),
			Protocol:    proto,
			PayloadSize: uint64(len(payload)),
		}
		if err := s.writeRFD(header, payload); err != nil {
			return fmt.Errorf("write rfd for batch %d: %w", batchID, err)
		}
		metrics.BatchesServed.WithLabelValues(string(proto)).Inc()

		if len(batch.Rows) < rfw.BatchUnit {
			s.logger.Debug("short batch from store, ending stream early",
				zap.Int("batch_id", batchID), zap.Int("rows", len(batch.Rows)))
			return nil
		}
	}
	return nil
}

func (s *Session) writeRFD(header protocol.RFDHeader, payload []byte) error {
	if _, err := s.w.Write(protocol.EncodeRFDHeader(header)); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := s.w.Write(payload); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

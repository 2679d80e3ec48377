// Package client implements the client-side RFW/RFD session: send one
// RFW, receive its batch stream, and reconnect-resume across transport
// or protocol faults within a retry budget.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/circuitbreaker"
	"github.com/coreflux/rfw-workload/internal/metrics"
	"github.com/coreflux/rfw-workload/internal/netkit"
	"github.com/coreflux/rfw-workload/internal/protocol"
)

// Session drives a single RFW from first connect through every
// reconnect-resume attempt to a terminal success or failure.
type Session struct {
	addr     string
	dialer   *netkit.Dialer
	breakers *circuitbreaker.Registry
	pool     *WriterPool
	logger   *zap.Logger

	retries int
}

// NewSession builds a client session bound to one target address. The
// breaker registry is shared across every session dialing the same
// server so a consistently unreachable address stops retrying fast.
func NewSession(addr string, dialer *netkit.Dialer, breakers *circuitbreaker.Registry, pool *WriterPool, logger *zap.Logger, retries int) *Session {
	return &Session{
		addr:     addr,
		dialer:   dialer,
		breakers: breakers,
		pool:     pool,
		logger:   logger.With(zap.String("addr", addr)),
		retries:  retries,
	}
}

// reconnectBackoff builds a fresh exponential backoff for one RFW's
// reconnect-resume attempts: it never gives up on its own, the
// session's own retry budget is what bounds attempts.
func reconnectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// errRetryBudgetExhausted marks a session terminated by the shared
// retries counter running out on a same-connection NOP resend, as
// opposed to a transport fault that would otherwise trigger
// reconnect-resume.
var errRetryBudgetExhausted = errors.New("retry budget exhausted on NOP")

// Run executes req to completion, returning nil on success or the
// terminal error once the retry budget is exhausted. The budget is a
// single counter shared across both same-connection NOP resends and
// cross-connection reconnect-resume attempts, mirroring the `retries`
// field of the reference client session.
func (s *Session) Run(ctx context.Context, rfwID uint32, req Request) error {
	cur := newCursor(req)
	remaining := s.retries
	bo := reconnectBackoff()

	for {
		err := s.attempt(ctx, rfwID, req, cur, &remaining)
		if err == nil {
			metrics.ClientSessionsCompleted.WithLabelValues("success").Inc()
			return nil
		}
		if cur.complete() {
			metrics.ClientSessionsCompleted.WithLabelValues("success").Inc()
			return nil
		}
		if errors.Is(err, errRetryBudgetExhausted) {
			metrics.ClientSessionsCompleted.WithLabelValues("failure").Inc()
			return fmt.Errorf("rfw %d: %w", rfwID, err)
		}

		remaining--
		s.logger.Debug("session attempt failed, considering reconnect-resume",
			zap.Uint32("rfw_id", rfwID), zap.Error(err), zap.Int("remaining_retries", remaining))
		if remaining < 0 {
			metrics.ClientSessionsCompleted.WithLabelValues("failure").Inc()
			return fmt.Errorf("rfw %d: retry budget exhausted: %w", rfwID, err)
		}

		cur.resume()
		metrics.ClientReconnects.Inc()

		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attempt opens one connection, sends the (possibly resumed) RFW, and
// runs the receive loop until the connection ends, the cursor
// completes, or a fault requires a fresh attempt.
func (s *Session) attempt(ctx context.Context, rfwID uint32, req Request, cur *cursor, remaining *int) error {
	breaker := s.breakers.For(s.addr)
	connIface, err := breaker.Execute(func() (interface{}, error) {
		return s.dialer.DialContext(ctx, "tcp", s.addr)
	})
	if err == gobreaker.ErrOpenState {
		return circuitbreaker.ErrOpen(s.addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	conn := connIface.(net.Conn)
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if err := s.sendRFW(w, rfwID, req, cur); err != nil {
		return fmt.Errorf("send rfw: %w", err)
	}

	return s.receiveLoop(ctx, conn, w, rfwID, req, cur, remaining)
}

func (s *Session) sendRFW(w *bufio.Writer, rfwID uint32, req Request, cur *cursor) error {
	payload, err := protocol.EncodeRFWPayload(req.Protocol, cur.rfw(req, rfwID))
	if err != nil {
		return err
	}
	header := protocol.RFWHeader{RFWID: rfwID, Protocol: req.Protocol, PayloadSize: uint64(len(payload))}
	if _, err := w.Write(protocol.EncodeRFWHeader(header)); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// receiveLoop implements RFD 4.5.3: read headers/payloads until the
// cursor completes, a NOP triggers a same-connection resend, or a
// transport fault, malformed header or undecodable payload hands control
// back to attempt's caller for reconnect-resume. remaining is the
// session's shared retry budget; a NOP resend decrements it directly
// since it never returns through attempt to Run's own decrement, and the
// NOP that brings it to zero ends the session.
func (s *Session) receiveLoop(ctx context.Context, conn net.Conn, w *bufio.Writer, rfwID uint32, req Request, cur *cursor, remaining *int) error {
	for !cur.complete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		buf, err := protocol.ReadExactly(conn, protocol.RFDHeaderSize)
		if err != nil {
			if cur.batchRcv == cur.batchSize {
				return nil
			}
			return fmt.Errorf("short header read: %w", err)
		}

		header, err := protocol.DecodeRFDHeader(buf)
		if err != nil {
			return fmt.Errorf("invalid rfd header: %w", err)
		}

		if header.Marker == protocol.MarkerNOP {
			*remaining--
			s.logger.Debug("received NOP, resending on same connection",
				zap.Uint32("rfw_id", rfwID), zap.Int("remaining_retries", *remaining))
			if *remaining <= 0 {
				return errRetryBudgetExhausted
			}
			if err := s.sendRFW(w, rfwID, req, cur); err != nil {
				return fmt.Errorf("resend after NOP: %w", err)
			}
			continue
		}

		if header.RFWID != rfwID {
			s.logger.Warn("rfw_id mismatch on reply", zap.Uint32("expected", rfwID), zap.Uint32("got", header.RFWID))
		}
		if header.Protocol != req.Protocol {
			s.logger.Warn("protocol mismatch on reply", zap.String("expected", string(req.Protocol)), zap.String("got", string(header.Protocol)))
		}
		expectedBatch := uint32(cur.batchID + cur.batchRcv)
		if header.LastBatch != expectedBatch {
			s.logger.Warn("non-sequential last_batch", zap.Uint32("expected", expectedBatch), zap.Uint32("got", header.LastBatch))
		}

		payloadBuf, err := protocol.ReadExactly(conn, int(header.PayloadSize))
		if err != nil {
			return fmt.Errorf("short payload read: %w", err)
		}
		rfd, err := protocol.DecodeRFDPayload(header.Protocol, payloadBuf)
		if err != nil {
			return fmt.Errorf("decode rfd payload: %w", err)
		}

		s.pool.Submit(Batch{
			RFWID:     rfwID,
			BenchType: req.BenchType,
			BatchID:   int(header.LastBatch),
			Keys:      rfd.Keys,
			Data:      rfd.Data,
		})
		cur.onBatchReceived()

		if len(rfd.Data) < req.BatchUnit {
			cur.markComplete()
		}
	}
	return nil
}

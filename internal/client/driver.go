package client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coreflux/rfw-workload/internal/circuitbreaker"
	"github.com/coreflux/rfw-workload/internal/config"
	"github.com/coreflux/rfw-workload/internal/netkit"
	"github.com/coreflux/rfw-workload/internal/protocol"
)

// Driver sources one or more Requests, launches a session per Request,
// and waits for every session and downstream writer to finish.
type Driver struct {
	addr     string
	dialer   *netkit.Dialer
	breakers *circuitbreaker.Registry
	pool     *WriterPool
	logger   *zap.Logger

	retries int
}

// NewDriver builds a driver bound to a single server address, sharing
// one dialer, breaker registry and writer pool across every request it
// launches.
func NewDriver(cfg *config.ClientConfig, logger *zap.Logger) *Driver {
	dialer := netkit.NewDialer(netkit.DefaultConfig(), logger)
	return &Driver{
		addr:     cfg.Addr(),
		dialer:   dialer,
		breakers: circuitbreaker.NewRegistry(logger),
		pool:     NewWriterPool(cfg.BatchesDir, logger),
		logger:   logger,
		retries:  cfg.Retries,
	}
}

// RunSingle launches exactly one RFW and blocks until it completes.
func (d *Driver) RunSingle(ctx context.Context, req Request) error {
	defer d.pool.Close()
	return d.runOne(ctx, req)
}

// RunBatchFile reads requests from a CSV file with columns
// protocol,bench_type,metrics,batch_unit,batch_id,batch_size and runs
// every row concurrently, waiting for all sessions and writers.
func (d *Driver) RunBatchFile(ctx context.Context, path string) error {
	defer d.pool.Close()

	reqs, err := loadBatchFile(path)
	if err != nil {
		return fmt.Errorf("load batch file %s: %w", path, err)
	}

	// Plain errgroup, not WithContext: a failed RFW must not cancel its
	// siblings, each request is independent per the transport's
	// per-connection isolation.
	var g errgroup.Group
	failed := make([]int32, len(reqs))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := d.runOne(ctx, req); err != nil {
				failed[i] = 1
				d.logger.Error("rfw failed", zap.Int("row", i), zap.Error(err))
				return err
			}
			return nil
		})
	}
	firstErr := g.Wait()

	if firstErr != nil {
		var n int
		for _, f := range failed {
			n += int(f)
		}
		return fmt.Errorf("%d of %d requests failed, first error: %w", n, len(reqs), firstErr)
	}
	return nil
}

func (d *Driver) runOne(ctx context.Context, req Request) error {
	rfwID, err := randomRFWID()
	if err != nil {
		return fmt.Errorf("draw rfw_id: %w", err)
	}
	sess := NewSession(d.addr, d.dialer, d.breakers, d.pool, d.logger, d.retries)
	return sess.Run(ctx, rfwID, req)
}

// randomRFWID draws a correlation id uniformly from [0, 2^32).
func randomRFWID() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func loadBatchFile(path string) ([]Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}

	var reqs []Request
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "protocol" {
			continue // header row
		}
		if len(row) != 6 {
			return nil, fmt.Errorf("row %d: expected 6 columns, got %d", i, len(row))
		}
		mask, err := strconv.ParseUint(row[2], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid metrics mask: %w", i, err)
		}
		if err := protocol.ValidMask(uint8(mask)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		batchUnit, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid batch_unit: %w", i, err)
		}
		batchID, err := strconv.Atoi(row[4])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid batch_id: %w", i, err)
		}
		batchSize, err := strconv.Atoi(row[5])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid batch_size: %w", i, err)
		}

		reqs = append(reqs, Request{
			Protocol:    protocol.ResolveProtocol(row[0]),
			BenchType:   row[1],
			MetricsMask: uint8(mask),
			BatchUnit:   batchUnit,
			BatchID:     batchID,
			BatchSize:   batchSize,
		})
	}
	return reqs, nil
}

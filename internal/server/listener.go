package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coreflux/rfw-workload/internal/config"
	"github.com/coreflux/rfw-workload/internal/store"
)

// Listener binds the configured address and spawns one goroutine per
// accepted connection. Concurrent sessions share nothing but the
// read-only sample store.
type Listener struct {
	addr    string
	store   store.Store
	logger  *zap.Logger
	maxFail int
	limiter *rate.Limiter

	wg sync.WaitGroup
}

// New builds a Listener from server configuration.
func New(cfg *config.ServerConfig, st store.Store, logger *zap.Logger) *Listener {
	var limiter *rate.Limiter
	if cfg.AcceptRateRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRateRPS), 1)
	}
	return &Listener{
		addr:    cfg.Addr(),
		store:   st,
		logger:  logger,
		maxFail: cfg.MaxFail,
		limiter: limiter,
	}
}

// Run accepts connections until ctx is cancelled, waiting for in-flight
// sessions to finish their current batch (or abort at the next I/O
// boundary) before returning.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	l.logger.Info("rfw server listening", zap.String("addr", l.addr))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.wg.Wait()
				l.logger.Info("rfw server shut down cleanly")
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				conn.Close()
				continue
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			sess := NewSession(conn, l.store, l.logger, l.maxFail)
			sess.Run(ctx)
		}()
	}
}

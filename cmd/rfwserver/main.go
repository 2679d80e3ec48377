// Command rfwserver runs the RFW/RFD workload server: it owns a sample
// store and accepts client connections, streaming batch replies to each.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/config"
	"github.com/coreflux/rfw-workload/internal/logger"
	"github.com/coreflux/rfw-workload/internal/server"
	"github.com/coreflux/rfw-workload/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadServerFlags(os.Args[1:])
	if err != nil {
		return 2
	}

	log := logger.Must(cfg.Local)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.Error("open sample store", zap.Error(err))
		return 1
	}
	defer st.Close()

	if cfg.MetricsPort != 0 {
		go serveMetrics(cfg.MetricsPort, log)
	}

	ln := server.New(cfg, st, log)
	if err := ln.Run(ctx); err != nil {
		log.Error("server exited with error", zap.Error(err))
		return 1
	}
	return 0
}

func serveMetrics(port int, log *zap.Logger) {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

// Command rfwclient issues RFW requests against an rfwserver and writes
// each received batch to a CSV file under its batches directory.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/client"
	"github.com/coreflux/rfw-workload/internal/config"
	"github.com/coreflux/rfw-workload/internal/logger"
	"github.com/coreflux/rfw-workload/internal/protocol"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: rfwclient <batch|single> <args...> [flags]")
		return 2
	}
	sub := os.Args[1]

	var positional, flagArgs []string
	var req client.Request
	var batchFile string
	var err error

	switch sub {
	case "batch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: rfwclient batch <file> [flags]")
			return 2
		}
		batchFile = os.Args[2]
		flagArgs = os.Args[3:]
	case "single":
		if len(os.Args) < 8 {
			fmt.Fprintln(os.Stderr, "usage: rfwclient single <protocol> <bench_type> <metrics> <batch_unit> <batch_id> <batch_size> [flags]")
			return 2
		}
		positional = os.Args[2:8]
		flagArgs = os.Args[8:]
		req, err = parseSingleArgs(positional)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		return 2
	}

	cfg, err := config.LoadClientFlags(flagArgs)
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

	if cfg.MetricsPort != 0 {
		go serveMetrics(cfg.MetricsPort, log)
	}

	driver := client.NewDriver(cfg, log)

	switch sub {
	case "batch":
		if err := driver.RunBatchFile(ctx, batchFile); err != nil {
			log.Error("batch run failed", zap.Error(err))
			return 1
		}
	case "single":
		if err := driver.RunSingle(ctx, req); err != nil {
			log.Error("single run failed", zap.Error(err))
			return 1
		}
	}
	return 0
}

// parseSingleArgs reads the positional single-request form:
// protocol bench_type metrics batch_unit batch_id batch_size.
func parseSingleArgs(args []string) (client.Request, error) {
	if len(args) != 6 {
		return client.Request{}, fmt.Errorf("usage: rfwclient single <protocol> <bench_type> <metrics> <batch_unit> <batch_id> <batch_size>")
	}
	mask, err := strconv.ParseUint(args[2], 10, 8)
	if err != nil {
		return client.Request{}, fmt.Errorf("invalid metrics mask: %w", err)
	}
	if err := protocol.ValidMask(uint8(mask)); err != nil {
		return client.Request{}, err
	}
	batchUnit, err := strconv.Atoi(args[3])
	if err != nil {
		return client.Request{}, fmt.Errorf("invalid batch_unit: %w", err)
	}
	batchID, err := strconv.Atoi(args[4])
	if err != nil {
		return client.Request{}, fmt.Errorf("invalid batch_id: %w", err)
	}
	batchSize, err := strconv.Atoi(args[5])
	if err != nil {
		return client.Request{}, fmt.Errorf("invalid batch_size: %w", err)
	}
	return client.Request{
		Protocol:    protocol.ResolveProtocol(args[0]),
		BenchType:   args[1],
		MetricsMask: uint8(mask),
		BatchUnit:   batchUnit,
		BatchID:     batchID,
		BatchSize:   batchSize,
	}, nil
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

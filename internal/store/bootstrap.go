package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// bootstrap loads the reference workload datasets into an empty store,
// the way original_source/workload_server/wl_db.py populates its
// sqlite table on first run. A populated store is left untouched.
const (
	sourceBaseURL = "https://raw.githubusercontent.com/" +
		"haniehalipour/Online-Machine-Learning-for-Cloud-Resource-Provisioning-of-Microservice-Backend-Systems/" +
		"master/Workload%20Data/"
)

var datasetFiles = []string{
	"DVD-testing.csv",
	"DVD-training.csv",
	"NDBench-testing.csv",
	"NDBench-training.csv",
}

// bootstrapper is implemented by each backend so bootstrap's
// download-and-parse logic stays backend-agnostic.
type bootstrapper interface {
	populated(ctx context.Context) (bool, error)
	createTable(ctx context.Context) error
	insertRows(ctx context.Context, source string, rows [][4]float64) error
}

func bootstrap(ctx context.Context, s Store, logger *zap.Logger) error {
	b, ok := s.(bootstrapper)
	if !ok {
		return fmt.Errorf("store backend does not support bootstrap")
	}

	done, err := b.populated(ctx)
	if err != nil {
		return err
	}
	if done {
		logger.Info("sample store already populated, skipping bootstrap")
		return nil
	}

	if err := b.createTable(ctx); err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for _, filename := range datasetFiles {
		logger.Info("fetching dataset", zap.String("file", filename))
		rows, err := fetchDataset(ctx, client, filename)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", filename, err)
		}
		source := strings.TrimSuffix(filename, ".csv")
		if err := b.insertRows(ctx, source, rows); err != nil {
			return fmt.Errorf("insert %s: %w", filename, err)
		}
		logger.Info("loaded dataset", zap.String("file", filename), zap.Int("rows", len(rows)))
	}
	return nil
}

// fetchDataset downloads and parses one CSV file. The source CSVs have a
// header row and columns CPU, Net_in, Net_out, Memory, Target.
func fetchDataset(ctx context.Context, client *http.Client, filename string) ([][4]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceBaseURL+filename, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	r := csv.NewReader(resp.Body)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][4]float64
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		if len(rec) < 4 {
			continue
		}
		cpu, err1 := strconv.ParseFloat(rec[0], 64)
		netIn, err2 := strconv.ParseFloat(rec[1], 64)
		netOut, err3 := strconv.ParseFloat(rec[2], 64)
		memory, err4 := strconv.ParseFloat(rec[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		rows = append(rows, [4]float64{cpu, netIn, netOut, memory})
	}
	return rows, nil
}

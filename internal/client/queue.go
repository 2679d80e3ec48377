package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/coreflux/rfw-workload/internal/metrics"
)

// Batch is the immutable record handed off from a session to the writer
// pool: one received RFD, ready to be rendered as a CSV file.
type Batch struct {
	RFWID     uint32
	BenchType string
	BatchID   int
	Keys      []string
	Data      [][]float64
}

// WriterPool is the client's ingress queue consumer: a FIFO buffered to
// 256 batches (Submit blocks while it is full) drained by a single
// goroutine that launches one writer goroutine per batch, writing into
// dir. Callers enqueue with Submit and must call Close before relying on
// every file being on disk.
type WriterPool struct {
	dir    string
	logger *zap.Logger

	queue chan Batch
	wg    sync.WaitGroup

	consumerDone chan struct{}
}

// NewWriterPool creates the directory lazily on first write and starts
// the consumer goroutine.
func NewWriterPool(dir string, logger *zap.Logger) *WriterPool {
	p := &WriterPool{
		dir:          dir,
		logger:       logger,
		queue:        make(chan Batch, 256),
		consumerDone: make(chan struct{}),
	}
	go p.consume()
	return p
}

// Submit enqueues a received batch for writing. Safe to call from many
// session goroutines concurrently.
func (p *WriterPool) Submit(b Batch) {
	p.queue <- b
}

// Close signals no more batches will be submitted and waits for the
// queue to drain and every writer to finish.
func (p *WriterPool) Close() {
	close(p.queue)
	<-p.consumerDone
	p.wg.Wait()
}

func (p *WriterPool) consume() {
	defer close(p.consumerDone)
	for b := range p.queue {
		p.wg.Add(1)
		go p.write(b)
	}
}

func (p *WriterPool) write(b Batch) {
	defer p.wg.Done()

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		p.logger.Error("create batches directory", zap.Error(err))
		metrics.WriterErrors.Inc()
		return
	}

	name := fmt.Sprintf("%d-%s-%d.csv", b.RFWID, b.BenchType, b.BatchID)
	path := filepath.Join(p.dir, name)

	var sb strings.Builder
	sb.WriteString(strings.Join(b.Keys, ","))
	sb.WriteByte('\n')
	for _, row := range b.Data {
		fields := make([]string, len(row))
		for i, v := range row {
			fields[i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		sb.WriteString(strings.Join(fields, ","))
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		p.logger.Error("write batch file", zap.String("path", path), zap.Error(err))
		metrics.WriterErrors.Inc()
		return
	}
	metrics.FilesWritten.Inc()
}

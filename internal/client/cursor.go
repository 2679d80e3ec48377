package client

import "github.com/coreflux/rfw-workload/internal/protocol"

// Request is the immutable description of what a session was asked to
// fetch. It never changes across reconnects; progress lives in cursor
// instead, which is rendered into a fresh RFW on every (re)send.
type Request struct {
	Protocol    protocol.Protocol
	BenchType   string
	MetricsMask uint8
	BatchUnit   int
	BatchID     int
	BatchSize   int
}

// cursor tracks a session's mutable resume state, kept separate from the
// original Request per the design note that the client should never
// mutate the request it was given: batch_id advances and batch_size
// shrinks as batches are received, then a fresh RFW is rendered for
// resend.
type cursor struct {
	batchID   int
	batchSize int
	batchRcv  int
}

func newCursor(req Request) *cursor {
	return &cursor{batchID: req.BatchID, batchSize: req.BatchSize}
}

// rfw renders the current resume state as a fresh RFW payload.
func (c *cursor) rfw(req Request, rfwID uint32) protocol.RFWPayload {
	return protocol.RFWPayload{
		BenchType:   req.BenchType,
		MetricsMask: req.MetricsMask,
		BatchUnit:   req.BatchUnit,
		BatchID:     c.batchID,
		BatchSize:   c.batchSize,
	}
}

// complete reports whether the cursor has received everything the
// current (possibly resumed) request asked for.
func (c *cursor) complete() bool {
	return c.batchRcv >= c.batchSize
}

// markComplete short-circuits the cursor on end-of-data: a short batch
// means the source is exhausted regardless of remaining batch_size.
func (c *cursor) markComplete() {
	c.batchRcv = c.batchSize
}

// onBatchReceived advances batch_rcv by one accepted RFD.
func (c *cursor) onBatchReceived() {
	c.batchRcv++
}

// resume folds the current connection's progress into a fresh attempt:
// batch_size shrinks by what was received, batch_id advances past it,
// batch_rcv resets for the new connection.
func (c *cursor) resume() {
	c.batchSize -= c.batchRcv
	c.batchID += c.batchRcv
	c.batchRcv = 0
}

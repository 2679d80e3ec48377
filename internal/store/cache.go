package store

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// cachedStore wraps a Store with an in-memory LRU of recently served
// batches, so a client retrying the same (bench_type, mask, batch_unit,
// batch_id) after a NOP or a reconnect does not force a second query
// against the backing database. Concurrent callers asking for the same
// uncached batch collapse onto a single backend query via singleflight,
// the same pattern the teacher's cache layer uses to coalesce loads.
type cachedStore struct {
	backend Store
	cache   *lru.Cache
	group   singleflight.Group
	logger  *zap.Logger
}

// newCachedStore wraps backend with an LRU of the given size. size <= 0
// disables caching and returns backend unwrapped.
func newCachedStore(backend Store, size int, logger *zap.Logger) (Store, error) {
	if size <= 0 {
		return backend, nil
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create batch cache: %w", err)
	}
	return &cachedStore{backend: backend, cache: c, logger: logger}, nil
}

func (c *cachedStore) Close() error { return c.backend.Close() }

func (c *cachedStore) GetBatch(ctx context.Context, benchType string, mask uint8, batchUnit, batchID int) (Batch, error) {
	key := fmt.Sprintf("%s|%d|%d|%d", benchType, mask, batchUnit, batchID)
	if v, ok := c.cache.Get(key); ok {
		c.logger.Debug("batch cache hit", zap.String("key", key))
		return v.(Batch), nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.backend.GetBatch(ctx, benchType, mask, batchUnit, batchID)
	})
	if err != nil {
		return Batch{}, err
	}
	batch := v.(Batch)
	if shared {
		c.logger.Debug("batch query collapsed via singleflight", zap.String("key", key))
	}
	c.cache.Add(key, batch)
	return batch, nil
}

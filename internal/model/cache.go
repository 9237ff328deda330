package model

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
)

// CacheMetrics is an optional interface for recording cache metrics.
type CacheMetrics interface {
	RecordCacheHit(ctx context.Context, modelID string)
	RecordCacheMiss(ctx context.Context, modelID string)
	RecordCacheEviction(ctx context.Context, modelID string)
}

// InstanceCache is a bounded LRU cache of model handles keyed by model
// identifier. It is shared by all attack workers; get/put/evict are
// serialized by a single mutex so the recency ordering stays consistent.
//
// Handle construction is deliberately kept outside the lock (see
// GetOrLoad) so a slow load never stalls unrelated lookups. The cost is
// a known race: two concurrent misses for the same key may both
// construct a handle, and the second Put simply refreshes the entry.
// Handles must tolerate being constructed twice.
type InstanceCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element

	metrics CacheMetrics
	logger  *slog.Logger
}

type cacheEntry struct {
	key    string
	handle Handle
}

// NewInstanceCache creates a cache holding at most capacity handles.
// Capacity 0 is legal and degenerate: the cache never retains anything.
func NewInstanceCache(capacity int, metrics CacheMetrics) *InstanceCache {
	if capacity < 0 {
		capacity = 0
	}
	return &InstanceCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		metrics:  metrics,
		logger:   slog.With("component", "model-cache"),
	}
}

// Get returns the handle for a model id, marking it most recently used.
func (c *InstanceCache) Get(ctx context.Context, modelID string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[modelID]
	if !ok {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(ctx, modelID)
		}
		return nil, false
	}

	c.order.MoveToFront(elem)
	if c.metrics != nil {
		c.metrics.RecordCacheHit(ctx, modelID)
	}
	return elem.Value.(*cacheEntry).handle, true
}

// Put inserts or refreshes a handle as most recently used, evicting the
// least recently used entry when at capacity. Every put counts as a
// miss: a put is a deferred miss+load, including refreshes of resident
// keys. External dashboards depend on this accounting.
func (c *InstanceCache) Put(ctx context.Context, modelID string, handle Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCacheMiss(ctx, modelID)
		}
	}()

	if c.capacity == 0 {
		// Nothing is ever resident; the incoming entry is evicted on arrival.
		c.evicted(ctx, modelID)
		return
	}

	if elem, ok := c.entries[modelID]; ok {
		elem.Value.(*cacheEntry).handle = handle
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, entry.key)
		c.evicted(ctx, entry.key)
	}

	c.entries[modelID] = c.order.PushFront(&cacheEntry{key: modelID, handle: handle})
	c.logger.Debug("Model handle cached", "modelId", modelID, "size", c.order.Len(), "capacity", c.capacity)
}

func (c *InstanceCache) evicted(ctx context.Context, modelID string) {
	c.logger.Info("Evicting model handle", "modelId", modelID)
	if c.metrics != nil {
		c.metrics.RecordCacheEviction(ctx, modelID)
	}
}

// GetOrLoad returns the cached handle for a model id, constructing and
// caching it via the loader on a miss. The loader runs outside the
// cache lock; concurrent misses for the same key may each invoke it
// (the duplicate-load race documented on InstanceCache).
func (c *InstanceCache) GetOrLoad(ctx context.Context, modelID string, loader Loader) (Handle, error) {
	if handle, ok := c.Get(ctx, modelID); ok {
		return handle, nil
	}

	handle, err := loader.Load(ctx, modelID)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, modelID, handle)
	return handle, nil
}

// Len returns the number of resident handles.
func (c *InstanceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Keys returns resident model ids ordered most to least recently used.
func (c *InstanceCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*cacheEntry).key)
	}
	return keys
}

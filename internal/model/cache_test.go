package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	mu        sync.Mutex
	hits      int
	misses    int
	evictions []string
}

func (r *recordingMetrics) RecordCacheHit(ctx context.Context, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
}

func (r *recordingMetrics) RecordCacheMiss(ctx context.Context, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func (r *recordingMetrics) RecordCacheEviction(ctx context.Context, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictions = append(r.evictions, modelID)
}

func stubHandle(label string) Handle {
	return HandleFunc(func(ctx context.Context, input string) (Prediction, error) {
		return Prediction{Label: label, Confidence: 1}, nil
	})
}

func TestInstanceCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	cache := NewInstanceCache(3, metrics)

	for i := 1; i <= 4; i++ {
		cache.Put(ctx, fmt.Sprintf("model-%d", i), stubHandle("Neutral"))
	}

	// model-1 was least recently used and must be the only eviction.
	require.Equal(t, []string{"model-1"}, metrics.evictions)
	assert.Equal(t, 3, cache.Len())

	_, ok := cache.Get(ctx, "model-1")
	assert.False(t, ok, "evicted key should miss")
	for i := 2; i <= 4; i++ {
		_, ok := cache.Get(ctx, fmt.Sprintf("model-%d", i))
		assert.True(t, ok, "model-%d should be resident", i)
	}
}

func TestInstanceCache_GetRefreshesRecency(t *testing.T) {
	ctx := context.Background()
	cache := NewInstanceCache(2, nil)

	cache.Put(ctx, "a", stubHandle("A"))
	cache.Put(ctx, "b", stubHandle("B"))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.Get(ctx, "a")
	require.True(t, ok)

	cache.Put(ctx, "c", stubHandle("C"))

	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")
	_, ok = cache.Get(ctx, "a")
	assert.True(t, ok, "a was refreshed and should survive")
	keys := cache.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "c"}, keys)
}

func TestInstanceCache_PutRefreshesResidentKey(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	cache := NewInstanceCache(2, metrics)

	cache.Put(ctx, "a", stubHandle("A"))
	cache.Put(ctx, "b", stubHandle("B"))
	cache.Put(ctx, "a", stubHandle("A2"))

	// Refresh never evicts and still counts as a miss-equivalent.
	assert.Empty(t, metrics.evictions)
	assert.Equal(t, 3, metrics.misses)
	assert.Equal(t, []string{"a", "b"}, cache.Keys(), "a refreshed to most recently used")

	handle, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	pred, err := handle.Predict(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "A2", pred.Label, "put should replace the stored handle")
}

func TestInstanceCache_CapacityZeroRetainsNothing(t *testing.T) {
	ctx := context.Background()
	metrics := &recordingMetrics{}
	cache := NewInstanceCache(0, metrics)

	cache.Put(ctx, "a", stubHandle("A"))
	cache.Put(ctx, "b", stubHandle("B"))

	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get(ctx, "a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, metrics.evictions, "every put is evicted on arrival")
}

func TestInstanceCache_GetOrLoad(t *testing.T) {
	ctx := context.Background()
	cache := NewInstanceCache(2, nil)

	var loads int
	loader := LoaderFunc(func(ctx context.Context, modelID string) (Handle, error) {
		loads++
		return stubHandle("Loaded"), nil
	})

	_, err := cache.GetOrLoad(ctx, "m", loader)
	require.NoError(t, err)
	_, err = cache.GetOrLoad(ctx, "m", loader)
	require.NoError(t, err)

	assert.Equal(t, 1, loads, "second GetOrLoad should hit the cache")
}

func TestInstanceCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	cache := NewInstanceCache(2, &recordingMetrics{})
	loader := BuiltinLoader()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("model-%d", i%3)
			for j := 0; j < 50; j++ {
				_, err := cache.GetOrLoad(ctx, id, loader)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 2)
}

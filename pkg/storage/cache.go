package storage

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// RangeCache implements an LRU cache for range reads
type RangeCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	cache    map[string]*cacheEntry
	lru      *list.List
}

// cacheEntry represents a cached range result
type cacheEntry struct {
	key       string
	result    *types.RangeResult
	timestamp time.Time
	element   *list.Element
}

// NewRangeCache creates a new range cache
func NewRangeCache(capacity int, ttl time.Duration) *RangeCache {
	return &RangeCache{
		capacity: capacity,
		ttl:      ttl,
		cache:    make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Get retrieves a cached range result
func (rc *RangeCache) Get(req *types.RangeRequest) (*types.RangeResult, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := generateCacheKey(req)
	entry, exists := rc.cache[key]
	if !exists {
		return nil, false
	}

	if time.Since(entry.timestamp) > rc.ttl {
		rc.removeLocked(key)
		return nil, false
	}

	rc.lru.MoveToFront(entry.element)
	return entry.result, true
}

// Put stores a range result in the cache
func (rc *RangeCache) Put(req *types.RangeRequest, result *types.RangeResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	key := generateCacheKey(req)

	if entry, exists := rc.cache[key]; exists {
		entry.result = result
		entry.timestamp = time.Now()
		rc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{
		key:       key,
		result:    result,
		timestamp: time.Now(),
	}
	entry.element = rc.lru.PushFront(entry)
	rc.cache[key] = entry

	if rc.lru.Len() > rc.capacity {
		if oldest := rc.lru.Back(); oldest != nil {
			rc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

// removeLocked removes an entry from the cache (must hold lock)
func (rc *RangeCache) removeLocked(key string) {
	if entry, exists := rc.cache[key]; exists {
		rc.lru.Remove(entry.element)
		delete(rc.cache, key)
	}
}

// Clear clears all cache entries
func (rc *RangeCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.cache = make(map[string]*cacheEntry)
	rc.lru = list.New()
}

// Size returns the current cache size
func (rc *RangeCache) Size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.cache)
}

// Stats returns cache statistics
func (rc *RangeCache) Stats() CacheStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	expired := 0
	for _, entry := range rc.cache {
		if time.Since(entry.timestamp) > rc.ttl {
			expired++
		}
	}

	return CacheStats{
		Size:     len(rc.cache),
		Capacity: rc.capacity,
		Expired:  expired,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int
	Capacity int
	Expired  int
}

// generateCacheKey derives a deterministic key from the request. Source
// order is part of the key since it fixes the result order.
func generateCacheKey(req *types.RangeRequest) string {
	data, _ := json.Marshal(struct {
		Start   int64                  `json:"start"`
		End     int64                  `json:"end"`
		Sources []types.SourceSelector `json:"sources"`
	}{
		Start:   req.Start.UnixNano(),
		End:     req.End.UnixNano(),
		Sources: req.Sources,
	})

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// CachedStore wraps a Store with range caching. Any write clears the cache.
// A read that overlapped a write is returned but not cached.
type CachedStore struct {
	store  Store
	cache  *RangeCache
	hits   uint64
	misses uint64
	gen    uint64
	mu     sync.Mutex
}

// NewCachedStore creates a cached storage wrapper
func NewCachedStore(store Store, cacheCapacity int, cacheTTL time.Duration) *CachedStore {
	return &CachedStore{
		store: store,
		cache: NewRangeCache(cacheCapacity, cacheTTL),
	}
}

// Write passes through to the underlying storage and drops cached ranges
func (cs *CachedStore) Write(ctx context.Context, req *types.WriteRequest) error {
	defer func() {
		cs.mu.Lock()
		cs.gen++
		cs.cache.Clear()
		cs.mu.Unlock()
	}()
	return cs.store.Write(ctx, req)
}

// Range checks the cache before reading storage
func (cs *CachedStore) Range(ctx context.Context, req *types.RangeRequest) (*types.RangeResult, error) {
	if result, ok := cs.cache.Get(req); ok {
		cs.mu.Lock()
		cs.hits++
		cs.mu.Unlock()
		cacheLookups.WithLabelValues("hit").Inc()
		return result, nil
	}

	cs.mu.Lock()
	cs.misses++
	gen := cs.gen
	cs.mu.Unlock()
	cacheLookups.WithLabelValues("miss").Inc()

	result, err := cs.store.Range(ctx, req)
	if err != nil {
		return nil, err
	}

	cs.mu.Lock()
	if cs.gen == gen {
		cs.cache.Put(req, result)
	}
	cs.mu.Unlock()
	return result, nil
}

// Sources passes through to the underlying storage
func (cs *CachedStore) Sources(ctx context.Context) ([]types.SourceInfo, error) {
	return cs.store.Sources(ctx)
}

// Close closes the underlying storage
func (cs *CachedStore) Close() error {
	return cs.store.Close()
}

// CacheStats returns cache statistics along with hit and miss counts
func (cs *CachedStore) CacheStats() (CacheStats, uint64, uint64) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.cache.Stats(), cs.hits, cs.misses
}

// CacheHitRate returns the cache hit rate as a percentage
func (cs *CachedStore) CacheHitRate() float64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	total := cs.hits + cs.misses
	if total == 0 {
		return 0.0
	}

	return float64(cs.hits) / float64(total) * 100.0
}

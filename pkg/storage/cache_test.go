package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

func rangeReq(source string, start time.Time) *types.RangeRequest {
	return &types.RangeRequest{
		Start:   start,
		End:     start.Add(time.Minute),
		Sources: []types.SourceSelector{{Source: source, Features: []string{"value"}}},
	}
}

func TestRangeCache(t *testing.T) {
	cache := NewRangeCache(100, time.Minute)
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	req := rangeReq("ir_data", start)

	if _, ok := cache.Get(req); ok {
		t.Error("Expected cache miss, got hit")
	}

	result := &types.RangeResult{
		Series: []types.SourceSeries{{
			Source:  "ir_data",
			Samples: []types.Sample{{Timestamp: start, Features: map[string]float64{"value": 42}}},
		}},
	}
	cache.Put(req, result)

	cached, ok := cache.Get(rangeReq("ir_data", start))
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if cached.Series[0].Samples[0].Features["value"] != 42.0 {
		t.Errorf("Expected value 42.0, got %f", cached.Series[0].Samples[0].Features["value"])
	}

	// Different source order is a different request
	reordered := &types.RangeRequest{
		Start: start,
		End:   start.Add(time.Minute),
		Sources: []types.SourceSelector{
			{Source: "b"}, {Source: "a"},
		},
	}
	if _, ok := cache.Get(reordered); ok {
		t.Error("Expected miss for a different request")
	}
}

func TestRangeCacheTTL(t *testing.T) {
	cache := NewRangeCache(100, 100*time.Millisecond)
	req := rangeReq("ir_data", time.Now())

	cache.Put(req, &types.RangeResult{})

	if _, ok := cache.Get(req); !ok {
		t.Error("Expected cache hit")
	}

	time.Sleep(150 * time.Millisecond)

	if _, ok := cache.Get(req); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
}

func TestRangeCacheLRUEviction(t *testing.T) {
	cache := NewRangeCache(3, time.Minute)
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		cache.Put(rangeReq(fmt.Sprintf("source_%d", i), start), &types.RangeResult{})
	}

	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get(rangeReq("source_0", start)); ok {
		t.Error("Expected source_0 to be evicted")
	}
	if _, ok := cache.Get(rangeReq("source_3", start)); !ok {
		t.Error("Expected source_3 to be in cache")
	}
}

func TestCacheStats(t *testing.T) {
	cache := NewRangeCache(100, time.Minute)

	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("Expected initial size 0, got %d", stats.Size)
	}

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		cache.Put(rangeReq(fmt.Sprintf("source_%d", i), start), &types.RangeResult{})
	}

	stats := cache.Stats()
	if stats.Size != 10 {
		t.Errorf("Expected size 10, got %d", stats.Size)
	}
	if stats.Capacity != 100 {
		t.Errorf("Expected capacity 100, got %d", stats.Capacity)
	}
}

func TestCachedStoreInvalidatesOnWrite(t *testing.T) {
	store := newTestStore(t)
	cached := NewCachedStore(store, 10, time.Minute)
	ctx := context.Background()
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	req := &types.RangeRequest{
		Start:   base,
		End:     base.Add(time.Minute),
		Sources: []types.SourceSelector{{Source: "ir_data"}},
	}

	result, err := cached.Range(ctx, req)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(result.Series[0].Samples) != 0 {
		t.Fatal("Expected empty store")
	}

	if _, err := cached.Range(ctx, req); err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if _, hits, misses := cached.CacheStats(); hits != 1 || misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}

	if err := cached.Write(ctx, &types.WriteRequest{
		Series: []types.SourceSeries{{Source: "ir_data", Samples: []types.Sample{irSample(base, 1, 2)}}},
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	result, err = cached.Range(ctx, req)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(result.Series[0].Samples) != 1 {
		t.Errorf("Expected fresh read after write, got %d samples", len(result.Series[0].Samples))
	}
	if rate := cached.CacheHitRate(); rate <= 0 || rate >= 100 {
		t.Errorf("Unexpected hit rate %f", rate)
	}
}

// slowStore hands out its current value and then, on the first Range
// only, waits for release before returning
type slowStore struct {
	mu      sync.Mutex
	value   float64
	block   bool
	read    chan struct{}
	release chan struct{}
}

func (s *slowStore) Write(ctx context.Context, req *types.WriteRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = req.Series[0].Samples[0].Features["value"]
	return nil
}

func (s *slowStore) Range(ctx context.Context, req *types.RangeRequest) (*types.RangeResult, error) {
	s.mu.Lock()
	v, block := s.value, s.block
	s.block = false
	s.mu.Unlock()

	if block {
		close(s.read)
		<-s.release
	}
	return &types.RangeResult{Series: []types.SourceSeries{{
		Source:  "ir_data",
		Samples: []types.Sample{{Timestamp: req.Start, Features: map[string]float64{"value": v}}},
	}}}, nil
}

func (s *slowStore) Sources(ctx context.Context) ([]types.SourceInfo, error) { return nil, nil }
func (s *slowStore) Close() error { return nil }

func TestCachedStoreDropsReadOverlappingWrite(t *testing.T) {
	store := &slowStore{value: 1, block: true, read: make(chan struct{}), release: make(chan struct{})}
	cached := NewCachedStore(store, 10, time.Minute)
	ctx := context.Background()
	req := rangeReq("ir_data", time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC))

	done := make(chan *types.RangeResult)
	go func() {
		result, err := cached.Range(ctx, req)
		if err != nil {
			t.Errorf("Range failed: %v", err)
		}
		done <- result
	}()

	<-store.read
	if err := cached.Write(ctx, &types.WriteRequest{Series: []types.SourceSeries{{
		Source:  "ir_data",
		Samples: []types.Sample{{Timestamp: req.Start, Features: map[string]float64{"value": 2}}},
	}}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	close(store.release)

	if old := <-done; old.Series[0].Samples[0].Features["value"] != 1 {
		t.Fatalf("Expected the overlapping read to see 1, got %v", old.Series[0].Samples[0].Features)
	}

	result, err := cached.Range(ctx, req)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if v := result.Series[0].Samples[0].Features["value"]; v != 2 {
		t.Errorf("Expected value 2 after write, got %v", v)
	}
}

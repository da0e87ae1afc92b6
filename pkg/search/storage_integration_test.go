package search_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/storage"
	"github.com/vjranagit/patternsearch/pkg/types"
)

func irSeries(base time.Time, step time.Duration, left, right []float64) types.SourceSeries {
	s := types.SourceSeries{Source: "ir_data"}
	for i := range left {
		s.Samples = append(s.Samples, types.Sample{
			Timestamp: base.Add(time.Duration(i) * step),
			Features:  map[string]float64{"ir_front_left": left[i], "ir_front_right": right[i]},
		})
	}
	return s
}

func TestSearchAgainstBadgerStore(t *testing.T) {
	store, err := storage.NewStorage(&storage.Config{InMemory: true, CompressionLevel: 1})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2021, 11, 27, 19, 0, 0, 0, time.UTC)

	left := make([]float64, 120)
	right := make([]float64, 120)
	for i := range left {
		left[i] = 10
		right[i] = 10
	}
	// a bump that the pattern below describes
	copy(left[70:], []float64{12, 18, 25, 18, 12, 12})
	copy(right[70:], []float64{11, 14, 20, 14, 11, 11})

	require.NoError(t, store.Write(ctx, &types.WriteRequest{
		Series: []types.SourceSeries{irSeries(base, 500*time.Millisecond, left, right)},
	}))

	pattern := irSeries(time.Unix(0, 0).UTC(), 500*time.Millisecond,
		[]float64{12, 18, 25, 18, 12},
		[]float64{11, 14, 20, 14, 11})

	q, err := search.NewSearchQuery([]types.SourceSeries{pattern},
		base, base.Add(time.Minute), 500*time.Millisecond, search.WithStep(1), search.WithResultSize(3))
	require.NoError(t, err)

	searcher := search.NewSearcher(storage.NewCachedStore(store, 128, time.Minute), &search.Options{
		Workers: 4,
		Probe:   search.StaticProbe(true),
	})

	res, err := searcher.Search(ctx, q)
	require.NoError(t, err)

	require.Len(t, res.Matches, 3)
	assert.Equal(t, base.Add(35*time.Second), res.Matches[0].Anchor.UTC())
	assert.InDelta(t, 0, res.Matches[0].Distance, 1e-9)
	assert.Zero(t, res.Skipped)
}

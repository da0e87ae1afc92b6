package search

import (
	"context"
	"fmt"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// PatternFromRange reads a recorded interval to use as a search pattern.
// Every selected source must have samples in [start, end].
func PatternFromRange(ctx context.Context, reader Reader, start, end time.Time, sources []types.SourceSelector) ([]types.SourceSeries, error) {
	if !start.Before(end) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}
	if len(sources) == 0 {
		return nil, invalidQuery("pattern range needs at least one source")
	}

	res, err := reader.Range(ctx, &types.RangeRequest{Start: start, End: end, Sources: sources})
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern: %w", err)
	}

	pattern := make([]types.SourceSeries, 0, len(sources))
	for _, sel := range sources {
		series, ok := res.Lookup(sel.Source)
		if !ok || len(series.Samples) == 0 {
			return nil, invalidQuery("source %q has no samples between %s and %s",
				sel.Source, start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
		}
		pattern = append(pattern, series)
	}
	return pattern, nil
}

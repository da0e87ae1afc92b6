package search

import (
	"math"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// DefaultResultSize is the number of matches returned when none is requested
const DefaultResultSize = 4

// SearchQuery holds the parameters of one search and the exemplar pattern.
// Build it with NewSearchQuery and do not modify it afterwards.
type SearchQuery struct {
	// Dataset is the pattern to look for. Its order fixes the column order
	// of every resampled matrix.
	Dataset []types.SourceSeries

	// Start and End bound the searched interval
	Start time.Time
	End   time.Time

	// Resolution is the spacing of the interpolation grid
	Resolution time.Duration

	// Step is how many resolution ticks a window advances between trials.
	// Zero selects a third of the pattern's own length.
	Step int

	// ResultSize is how many best matches are returned
	ResultSize int

	// SearchRangeSize is ceil((End-Start)/Resolution)
	SearchRangeSize int

	// Layout lists, per source and in dataset order, the sorted feature
	// names taken from the source's first sample
	Layout []types.SourceSelector
}

// QueryOption customizes a SearchQuery
type QueryOption func(*SearchQuery) error

// WithStep sets the window step as a multiple of the resolution
func WithStep(step int) QueryOption {
	return func(q *SearchQuery) error {
		if step <= 0 {
			return invalidQuery("step must be positive, got %d", step)
		}
		q.Step = step
		return nil
	}
}

// WithResultSize sets how many matches are returned
func WithResultSize(n int) QueryOption {
	return func(q *SearchQuery) error {
		if n <= 0 {
			return invalidQuery("result size must be positive, got %d", n)
		}
		q.ResultSize = n
		return nil
	}
}

// NewSearchQuery validates the parameters and derives the feature layout.
// Every sample of a source is expected to carry the keys of its first
// sample; this is not checked here.
func NewSearchQuery(dataset []types.SourceSeries, start, end time.Time, resolution time.Duration, opts ...QueryOption) (*SearchQuery, error) {
	q := &SearchQuery{
		Dataset:    dataset,
		Start:      start,
		End:        end,
		Resolution: resolution,
		ResultSize: DefaultResultSize,
	}

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}

	if err := q.Validate(); err != nil {
		return nil, err
	}

	q.Layout = make([]types.SourceSelector, len(dataset))
	for i, series := range dataset {
		q.Layout[i] = types.SourceSelector{
			Source:   series.Source,
			Features: series.FeatureKeys(),
		}
	}
	q.SearchRangeSize = int(math.Ceil(float64(end.Sub(start)) / float64(resolution)))

	return q, nil
}

// Validate checks the query parameters and the shape of the dataset
func (q *SearchQuery) Validate() error {
	if !q.Start.Before(q.End) {
		return &InvalidRangeError{Start: q.Start, End: q.End}
	}
	if q.Resolution <= 0 {
		return invalidQuery("resolution must be positive, got %s", q.Resolution)
	}
	if q.Step < 0 {
		return invalidQuery("step must be positive, got %d", q.Step)
	}
	if q.ResultSize <= 0 {
		return invalidQuery("result size must be positive, got %d", q.ResultSize)
	}
	if len(q.Dataset) == 0 {
		return invalidQuery("dataset has no sources")
	}

	seen := make(map[string]struct{}, len(q.Dataset))
	for _, series := range q.Dataset {
		if series.Source == "" {
			return invalidQuery("dataset source without a name")
		}
		if _, dup := seen[series.Source]; dup {
			return invalidQuery("source %q listed twice", series.Source)
		}
		seen[series.Source] = struct{}{}

		if len(series.Samples) == 0 {
			return invalidQuery("source %q has no samples", series.Source)
		}
		if len(series.Samples[0].Features) == 0 {
			return invalidQuery("source %q has no features", series.Source)
		}
	}

	return nil
}

// Columns returns the width of every matrix built for this query
func (q *SearchQuery) Columns() int {
	n := 0
	for _, sel := range q.Layout {
		n += len(sel.Features)
	}
	return n
}

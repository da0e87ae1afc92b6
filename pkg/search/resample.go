package search

import (
	"fmt"
	"math"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// Matrix is a dense row-major grid of resampled values. Rows are uniform
// time ticks, columns the features of every source in layout order.
type Matrix struct {
	Rows  int
	Cols  int
	Start time.Time
	Data  []float64
}

// NewMatrix allocates a zeroed rows x cols matrix
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{
		Rows: rows,
		Cols: cols,
		Data: make([]float64, rows*cols),
	}
}

// Row returns row i as a slice sharing the matrix storage
func (m *Matrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// At returns the value at row i, column j
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// TickCount returns how many grid ticks of the given resolution fit in
// [start, end], both ends included
func TickCount(start, end time.Time, resolution time.Duration) int {
	if end.Before(start) || resolution <= 0 {
		return 0
	}
	return int(end.Sub(start)/resolution) + 1
}

// Resample interpolates sources onto one uniform grid. The grid starts at
// the earliest first sample of any source and its last tick is the latest
// tick not after the latest last sample. layout fixes which features are
// read and in which column order; each layout entry must name a source
// present in sources.
func Resample(sources []types.SourceSeries, layout []types.SourceSelector, resolution time.Duration) (*Matrix, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %s", resolution)
	}

	ordered := make([][]types.Sample, len(layout))
	var start, end time.Time
	cols := 0
	for i, sel := range layout {
		series, ok := lookupSeries(sources, sel.Source)
		if !ok || len(series.Samples) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrEmptySource, sel.Source)
		}
		if err := checkSamples(sel, series.Samples); err != nil {
			return nil, err
		}
		ordered[i] = series.Samples
		cols += len(sel.Features)

		if i == 0 || series.First().Before(start) {
			start = series.First()
		}
		if i == 0 || series.Last().After(end) {
			end = series.Last()
		}
	}
	if len(ordered) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrEmptySource)
	}

	m := NewMatrix(TickCount(start, end, resolution), cols)
	m.Start = start

	cursors := make([]int, len(ordered))
	for row := 0; row < m.Rows; row++ {
		t := start.Add(time.Duration(row) * resolution)
		out := m.Row(row)

		col := 0
		for i, samples := range ordered {
			features := layout[i].Features
			cursors[i] = interpolate(samples, cursors[i], t, features, out[col:col+len(features)])
			col += len(features)
		}
	}

	return m, nil
}

// interpolate writes the values of features at time t into out and returns
// the advanced cursor. Ticks before the first sample or after the last one
// take that sample's values unchanged.
func interpolate(samples []types.Sample, cursor int, t time.Time, features []string, out []float64) int {
	for !samples[cursor].Timestamp.After(t) {
		if cursor+1 == len(samples) {
			copyFeatures(samples[cursor], features, out)
			return cursor
		}
		cursor++
	}

	if cursor == 0 {
		copyFeatures(samples[0], features, out)
		return cursor
	}

	prev, cur := samples[cursor-1], samples[cursor]
	frac := float64(t.Sub(prev.Timestamp)) / float64(cur.Timestamp.Sub(prev.Timestamp))
	for j, f := range features {
		a, b := prev.Features[f], cur.Features[f]
		out[j] = a + (b-a)*frac
	}

	return cursor
}

func copyFeatures(s types.Sample, features []string, out []float64) {
	for j, f := range features {
		out[j] = s.Features[f]
	}
}

// checkSamples rejects samples missing a layout feature, carrying a
// non-finite value or going back in time
func checkSamples(sel types.SourceSelector, samples []types.Sample) error {
	for i, s := range samples {
		if i > 0 && s.Timestamp.Before(samples[i-1].Timestamp) {
			return &MalformedDataError{Source: sel.Source, Timestamp: s.Timestamp, Reason: "is out of order"}
		}
		for _, f := range sel.Features {
			v, ok := s.Features[f]
			if !ok {
				return &MalformedDataError{Source: sel.Source, Feature: f, Timestamp: s.Timestamp, Reason: "is missing"}
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &MalformedDataError{Source: sel.Source, Feature: f, Timestamp: s.Timestamp, Reason: "is not finite"}
			}
		}
	}
	return nil
}

func lookupSeries(sources []types.SourceSeries, name string) (types.SourceSeries, bool) {
	for _, s := range sources {
		if s.Source == name {
			return s, true
		}
	}
	return types.SourceSeries{}, false
}

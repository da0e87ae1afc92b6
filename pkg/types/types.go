package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Sample is one timestamped reading from a single source
type Sample struct {
	Timestamp time.Time          `json:"timestamp"`
	Features  map[string]float64 `json:"features"`
}

// SourceSeries is an ordered run of samples from one source. All samples
// are expected to carry the same feature keys.
type SourceSeries struct {
	Source  string   `json:"source"`
	Samples []Sample `json:"samples"`
}

// FeatureKeys returns the sorted feature names of the first sample
func (s SourceSeries) FeatureKeys() []string {
	if len(s.Samples) == 0 {
		return nil
	}
	return SortedKeys(s.Samples[0].Features)
}

// First returns the timestamp of the first sample
func (s SourceSeries) First() time.Time {
	if len(s.Samples) == 0 {
		return time.Time{}
	}
	return s.Samples[0].Timestamp
}

// Last returns the timestamp of the last sample
func (s SourceSeries) Last() time.Time {
	if len(s.Samples) == 0 {
		return time.Time{}
	}
	return s.Samples[len(s.Samples)-1].Timestamp
}

// SourceSelector names a source and the features to read from it
type SourceSelector struct {
	Source   string   `json:"source"`
	Features []string `json:"features"`
}

// ParseSelector parses "name" or "name:feature1,feature2"
func ParseSelector(s string) (SourceSelector, error) {
	name, features, _ := strings.Cut(s, ":")
	if name == "" {
		return SourceSelector{}, fmt.Errorf("invalid source %q", s)
	}
	sel := SourceSelector{Source: name}
	if features != "" {
		sel.Features = strings.Split(features, ",")
	}
	return sel, nil
}

// ParseSelectors parses every value with ParseSelector. At least one
// value is required.
func ParseSelectors(values []string) ([]SourceSelector, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}
	out := make([]SourceSelector, 0, len(values))
	for _, v := range values {
		sel, err := ParseSelector(v)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

// WriteRequest represents a write request to the storage engine
type WriteRequest struct {
	Series []SourceSeries `json:"series"`
}

// RangeRequest asks for the samples of several sources inside the
// inclusive interval [Start, End]
type RangeRequest struct {
	Start   time.Time        `json:"start"`
	End     time.Time        `json:"end"`
	Sources []SourceSelector `json:"sources"`
}

// RangeResult holds one series per requested source, in request order.
// A series without samples means the source has no coverage.
type RangeResult struct {
	Series []SourceSeries `json:"series"`
}

// Lookup returns the series for a source
func (r *RangeResult) Lookup(source string) (SourceSeries, bool) {
	for _, s := range r.Series {
		if s.Source == source {
			return s, true
		}
	}
	return SourceSeries{}, false
}

// SourceInfo describes what the archive holds for one source
type SourceInfo struct {
	Name     string    `json:"name"`
	Features []string  `json:"features"`
	MinTime  time.Time `json:"min_time"`
	MaxTime  time.Time `json:"max_time"`
	Samples  uint64    `json:"samples"`
}

// SortedKeys returns the keys of m in lexicographic order
func SortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

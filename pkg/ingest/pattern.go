package ingest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// patternFile is the YAML layout of a search pattern:
//
//	sources:
//	  - source: ir_data
//	    samples:
//	      - timestamp: 2021-11-27T19:35:00Z
//	        features: {ir_front_left: 1.0, ir_front_right: 0.5}
type patternFile struct {
	Sources []struct {
		Source  string `yaml:"source"`
		Samples []struct {
			Timestamp time.Time          `yaml:"timestamp"`
			Features  map[string]float64 `yaml:"features"`
		} `yaml:"samples"`
	} `yaml:"sources"`
}

// LoadPattern reads a search pattern from a YAML file
func LoadPattern(path string) ([]types.SourceSeries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	return ParsePattern(data)
}

// ParsePattern decodes a YAML search pattern. Samples are kept in file
// order.
func ParsePattern(data []byte) ([]types.SourceSeries, error) {
	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}
	if len(pf.Sources) == 0 {
		return nil, fmt.Errorf("pattern has no sources")
	}

	out := make([]types.SourceSeries, 0, len(pf.Sources))
	for _, src := range pf.Sources {
		series := types.SourceSeries{Source: src.Source}
		for _, s := range src.Samples {
			series.Samples = append(series.Samples, types.Sample{
				Timestamp: s.Timestamp.UTC(),
				Features:  s.Features,
			})
		}
		out = append(out, series)
	}
	return out, nil
}

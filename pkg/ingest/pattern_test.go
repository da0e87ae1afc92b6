package ingest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const samplePattern = `
sources:
  - source: ir_data
    samples:
      - timestamp: 2021-11-27T19:35:00Z
        features: {ir_front_left: 1.0, ir_front_right: 0.5}
      - timestamp: 2021-11-27T19:35:01Z
        features: {ir_front_left: 2.0, ir_front_right: 0.25}
  - source: mpu_data
    samples:
      - timestamp: 2021-11-27T19:35:00.5Z
        features: {gyro_x: 3}
`

func TestParsePattern(t *testing.T) {
	series, err := ParsePattern([]byte(samplePattern))
	if err != nil {
		t.Fatalf("ParsePattern failed: %v", err)
	}

	if len(series) != 2 || series[0].Source != "ir_data" || series[1].Source != "mpu_data" {
		t.Fatalf("Unexpected sources: %+v", series)
	}
	if len(series[0].Samples) != 2 {
		t.Fatalf("Expected 2 ir samples, got %d", len(series[0].Samples))
	}

	first := series[0].Samples[0]
	if !first.Timestamp.Equal(time.Date(2021, 11, 27, 19, 35, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp %v", first.Timestamp)
	}
	if first.Features["ir_front_right"] != 0.5 {
		t.Errorf("Unexpected features %v", first.Features)
	}
	if got := series[1].Samples[0].Timestamp.Nanosecond(); got != 500000000 {
		t.Errorf("Expected half second, got %dns", got)
	}
}

func TestLoadPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pattern.yaml")
	if err := os.WriteFile(path, []byte(samplePattern), 0644); err != nil {
		t.Fatal(err)
	}

	series, err := LoadPattern(path)
	if err != nil {
		t.Fatalf("LoadPattern failed: %v", err)
	}
	if len(series) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(series))
	}

	if _, err := LoadPattern(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParsePatternErrors(t *testing.T) {
	for _, input := range []string{"sources: []", "sources: [", "{}"} {
		if _, err := ParsePattern([]byte(input)); err == nil {
			t.Errorf("Expected error for %q", input)
		}
	}
}

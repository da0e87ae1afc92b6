package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

type recordingWriter struct {
	writes []types.SourceSeries
	err    error
}

func (w *recordingWriter) Write(_ context.Context, req *types.WriteRequest) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, req.Series...)
	return nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func TestDecodeTimestampFormats(t *testing.T) {
	want := time.Date(2021, 11, 27, 19, 35, 0, 0, time.UTC)
	input := `[
		{"timestamp": "2021-11-27T19:35:00Z", "v": 1},
		{"timestamp": {"$date": 1638041700000}, "v": 2},
		{"timestamp": {"$date": "2021-11-27T20:35:00+01:00"}, "v": 3},
		{"timestamp": {"$date": {"$numberLong": "1638041700000"}}, "v": 4}
	]`

	series, skipped, err := Decode(strings.NewReader(input), "ir_data")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if skipped != 0 {
		t.Errorf("Expected no skipped records, got %d", skipped)
	}
	if len(series.Samples) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(series.Samples))
	}
	for i, s := range series.Samples {
		if !s.Timestamp.Equal(want) {
			t.Errorf("Sample %d: expected %v, got %v", i, want, s.Timestamp)
		}
	}
}

func TestDecodeIgnoresNonNumericFields(t *testing.T) {
	input := `[{"timestamp": "2021-11-27T19:35:00Z", "session_id": "abc", "moving": true,
		"ir_front_left": 12, "ir_front_right": 3.5, "nested": {"x": 1}}]`

	series, _, err := Decode(strings.NewReader(input), "ir_data")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got := series.Samples[0].Features
	if len(got) != 2 || got["ir_front_left"] != 12 || got["ir_front_right"] != 3.5 {
		t.Errorf("Unexpected features: %v", got)
	}
}

func TestDecodeSkipsRecordsWithoutTimestamp(t *testing.T) {
	input := `[
		{"timestamp": "2021-11-27T19:35:02Z", "v": 2},
		{"v": 9},
		{"timestamp": "yesterday", "v": 9},
		{"timestamp": "2021-11-27T19:35:01Z", "v": 1}
	]`

	series, skipped, err := Decode(strings.NewReader(input), "s")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if skipped != 2 {
		t.Errorf("Expected 2 skipped records, got %d", skipped)
	}
	if len(series.Samples) != 2 || series.Samples[0].Features["v"] != 1 {
		t.Errorf("Samples not sorted by time: %+v", series.Samples)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, _, err := Decode(strings.NewReader(`[{"timestamp": `), "s"); err == nil {
		t.Error("Expected error for truncated JSON")
	}
}

func TestSourceFromFilename(t *testing.T) {
	tests := map[string]string{
		"logs/ir_data12.json":   "ir_data",
		"mpu_data1.json":        "mpu_data",
		"system_data.json":      "system_data",
		"/tmp/camera_data.json": "camera_data",
		"42.json":               "",
	}
	for path, want := range tests {
		if got := SourceFromFilename(path); got != want {
			t.Errorf("SourceFromFilename(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ir_data2.json", `[{"timestamp": "2021-11-27T19:35:02Z", "v": 2}]`)
	writeFile(t, dir, "ir_data10.json", `[{"timestamp": "2021-11-27T19:35:10Z", "v": 10}]`)
	writeFile(t, dir, "ir_data1.json", `[{"timestamp": "2021-11-27T19:35:01Z", "v": 1}, {"v": 0}]`)
	writeFile(t, dir, "mpu_data1.json", `[{"timestamp": "2021-11-27T19:35:01Z", "gx": 1}]`)
	writeFile(t, dir, "broken1.json", `not json`)

	w := &recordingWriter{}
	stats, err := Dir(context.Background(), w, dir, nil, nil)
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}

	want := Stats{Files: 4, Failed: 1, Samples: 4, Skipped: 1}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}

	var order []float64
	for _, s := range w.writes {
		if s.Source == "ir_data" {
			order = append(order, s.Samples[0].Features["v"])
		}
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 10 {
		t.Errorf("Expected natural file order [1 2 10], got %v", order)
	}
}

func TestDirSourceFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ir_data1.json", `[{"timestamp": "2021-11-27T19:35:01Z", "v": 1}]`)
	writeFile(t, dir, "ir_data_raw1.json", `[{"timestamp": "2021-11-27T19:35:01Z", "v": 1}]`)
	writeFile(t, dir, "mpu_data1.json", `[{"timestamp": "2021-11-27T19:35:01Z", "gx": 1}]`)

	w := &recordingWriter{}
	stats, err := Dir(context.Background(), w, dir, []string{"ir_data"}, nil)
	if err != nil {
		t.Fatalf("Dir failed: %v", err)
	}
	if stats.Files != 1 || len(w.writes) != 1 || w.writes[0].Source != "ir_data" {
		t.Errorf("Expected only ir_data1.json, got %+v with %d writes", stats, len(w.writes))
	}
}

func TestDirWriteFailureAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ir_data1.json", `[{"timestamp": "2021-11-27T19:35:01Z", "v": 1}]`)

	boom := errors.New("disk full")
	_, err := Dir(context.Background(), &recordingWriter{err: boom}, dir, nil, nil)
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped write error, got %v", err)
	}
}

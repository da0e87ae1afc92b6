// Package ingest loads recorded sensor logs into a store. A log file is a
// JSON array of objects, one per reading, each with a "timestamp" and any
// number of numeric fields. Files are named <source><n>.json.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// Writer is where decoded samples go. storage.Store satisfies it.
type Writer interface {
	Write(ctx context.Context, req *types.WriteRequest) error
}

// Stats summarizes one ingest run
type Stats struct {
	Files   int `json:"files"`
	Failed  int `json:"failed"`
	Samples int `json:"samples"`
	Skipped int `json:"skipped"`
}

// ErrNoTimestamp marks a record without a usable timestamp
var ErrNoTimestamp = errors.New("record has no timestamp")

// Dir ingests every log file in dir. With sources set only files named
// after one of them are read. Files that fail to decode are logged and
// counted; a failing write aborts the run.
func Dir(ctx context.Context, w Writer, dir string, sources []string, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.Default()
	}

	files, err := listFiles(dir, sources)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		series, skipped, err := DecodeFile(file)
		if err != nil {
			logger.Warn("failed to decode log file", "file", file, "error", err)
			stats.Failed++
			continue
		}

		if len(series.Samples) > 0 {
			if err := w.Write(ctx, &types.WriteRequest{Series: []types.SourceSeries{series}}); err != nil {
				return stats, fmt.Errorf("failed to store %s: %w", file, err)
			}
		}

		stats.Files++
		stats.Samples += len(series.Samples)
		stats.Skipped += skipped
		logger.Debug("log file ingested", "file", file, "source", series.Source,
			"samples", len(series.Samples), "skipped", skipped)
	}

	logger.Info("ingest finished", "dir", dir, "files", stats.Files, "failed", stats.Failed,
		"samples", stats.Samples, "skipped", stats.Skipped)
	return stats, nil
}

// listFiles returns the log files of dir in natural order
func listFiles(dir string, sources []string) ([]string, error) {
	var files []string
	if len(sources) == 0 {
		matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err != nil {
			return nil, err
		}
		files = matches
	} else {
		for _, source := range sources {
			matches, err := filepath.Glob(filepath.Join(dir, source+"*.json"))
			if err != nil {
				return nil, fmt.Errorf("bad source pattern %q: %w", source, err)
			}
			for _, m := range matches {
				if SourceFromFilename(m) == source {
					files = append(files, m)
				}
			}
		}
	}

	sort.Slice(files, func(i, j int) bool {
		si, ni := splitFilename(files[i])
		sj, nj := splitFilename(files[j])
		if si != sj {
			return si < sj
		}
		return ni < nj
	})
	return files, nil
}

// SourceFromFilename strips the directory, extension and rotation index:
// "logs/ir_data12.json" is source "ir_data"
func SourceFromFilename(path string) string {
	source, _ := splitFilename(path)
	return source
}

func splitFilename(path string) (string, int) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	n, _ := strconv.Atoi(name[i:])
	return name[:i], n
}

// DecodeFile reads one log file
func DecodeFile(path string) (types.SourceSeries, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.SourceSeries{}, 0, err
	}
	defer f.Close()

	source := SourceFromFilename(path)
	if source == "" {
		return types.SourceSeries{}, 0, fmt.Errorf("cannot derive source name from %s", filepath.Base(path))
	}
	return Decode(f, source)
}

// Decode parses a JSON array of readings into a series sorted by time.
// Records without a timestamp are skipped and counted. Non-numeric fields
// such as session ids are ignored.
func Decode(r io.Reader, source string) (types.SourceSeries, int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return types.SourceSeries{}, 0, fmt.Errorf("failed to parse log: %w", err)
	}

	series := types.SourceSeries{Source: source}
	skipped := 0
	for _, rec := range records {
		ts, err := parseTimestamp(rec["timestamp"])
		if err != nil {
			skipped++
			continue
		}

		sample := types.Sample{Timestamp: ts, Features: make(map[string]float64)}
		for k, v := range rec {
			if k == "timestamp" {
				continue
			}
			if n, ok := v.(json.Number); ok {
				if f, err := n.Float64(); err == nil {
					sample.Features[k] = f
				}
			}
		}
		series.Samples = append(series.Samples, sample)
	}

	sort.SliceStable(series.Samples, func(i, j int) bool {
		return series.Samples[i].Timestamp.Before(series.Samples[j].Timestamp)
	})
	return series, skipped, nil
}

// parseTimestamp accepts RFC 3339 strings and MongoDB extended JSON dates:
// {"$date": <millis>}, {"$date": "<RFC 3339>"} and
// {"$date": {"$numberLong": "<millis>"}}
func parseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrNoTimestamp, err)
		}
		return ts.UTC(), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrNoTimestamp, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case map[string]any:
		if date, ok := t["$date"]; ok {
			return parseTimestamp(date)
		}
		if long, ok := t["$numberLong"].(string); ok {
			ms, err := strconv.ParseInt(long, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: %v", ErrNoTimestamp, err)
			}
			return time.UnixMilli(ms).UTC(), nil
		}
	}
	return time.Time{}, ErrNoTimestamp
}

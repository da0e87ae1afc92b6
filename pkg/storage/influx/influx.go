// Package influx stores and reads source samples in an InfluxDB 2.x bucket.
// Each source is a measurement and each feature a field.
package influx

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// namePattern restricts measurement and field names that are spliced into
// Flux queries
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,128}$`)

// Config holds InfluxDB connection settings
type Config struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// Store implements storage.Store on top of InfluxDB
type Store struct {
	client influxdb2.Client
	query  api.QueryAPI
	write  api.WriteAPIBlocking
	bucket string
}

// NewStore connects to InfluxDB. The connection is checked lazily; call
// Ping to verify it.
func NewStore(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx url, org and bucket are required")
	}
	if err := validateName(cfg.Bucket); err != nil {
		return nil, fmt.Errorf("invalid bucket: %w", err)
	}

	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &Store{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
	}, nil
}

// Ping reports whether the server is healthy
func (s *Store) Ping(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB not ready: %s %s", health.Status, msg)
	}
	return nil
}

// Write stores every sample as a point of the source measurement
func (s *Store) Write(ctx context.Context, req *types.WriteRequest) error {
	points, err := Points(req)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

// Points converts a write request into line protocol points
func Points(req *types.WriteRequest) ([]*write.Point, error) {
	var points []*write.Point
	for _, series := range req.Series {
		if err := validateName(series.Source); err != nil {
			return nil, fmt.Errorf("invalid source: %w", err)
		}
		for _, sample := range series.Samples {
			if len(sample.Features) == 0 {
				continue
			}
			fields := make(map[string]interface{}, len(sample.Features))
			for k, v := range sample.Features {
				fields[k] = v
			}
			points = append(points, influxdb2.NewPoint(series.Source, nil, fields, sample.Timestamp))
		}
	}
	return points, nil
}

// Range runs one Flux query per requested source. Flux ranges exclude
// their stop time, so the stop is moved one nanosecond past End.
func (s *Store) Range(ctx context.Context, req *types.RangeRequest) (*types.RangeResult, error) {
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("range end %s is before start %s", req.End, req.Start)
	}

	result := &types.RangeResult{Series: make([]types.SourceSeries, 0, len(req.Sources))}
	for _, sel := range req.Sources {
		flux, err := BuildRangeQuery(s.bucket, sel, req.Start, req.End)
		if err != nil {
			return nil, err
		}

		samples, err := s.readSamples(ctx, flux, sel.Features)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", sel.Source, err)
		}
		result.Series = append(result.Series, types.SourceSeries{Source: sel.Source, Samples: samples})
	}

	return result, nil
}

func (s *Store) readSamples(ctx context.Context, flux string, features []string) ([]types.Sample, error) {
	table, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer table.Close()

	var samples []types.Sample
	for table.Next() {
		record := table.Record()
		samples = append(samples, types.Sample{
			Timestamp: record.Time().UTC(),
			Features:  recordFeatures(record.Values(), features),
		})
	}
	if table.Err() != nil {
		return nil, fmt.Errorf("failed to parse query result: %w", table.Err())
	}

	return samples, nil
}

// Sources lists the measurements of the bucket and their field keys.
// InfluxDB does not report coverage cheaply, so time bounds and sample
// counts are left empty.
func (s *Store) Sources(ctx context.Context) ([]types.SourceInfo, error) {
	names, err := s.strings(ctx, fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.measurements(bucket: "%s")`, s.bucket))
	if err != nil {
		return nil, fmt.Errorf("failed to list measurements: %w", err)
	}

	infos := make([]types.SourceInfo, 0, len(names))
	for _, name := range names {
		if validateName(name) != nil {
			continue
		}
		fields, err := s.strings(ctx, fmt.Sprintf(`import "influxdata/influxdb/schema"
schema.measurementFieldKeys(bucket: "%s", measurement: "%s")`, s.bucket, name))
		if err != nil {
			return nil, fmt.Errorf("failed to list fields of %q: %w", name, err)
		}
		sort.Strings(fields)
		infos = append(infos, types.SourceInfo{Name: name, Features: fields})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *Store) strings(ctx context.Context, flux string) ([]string, error) {
	table, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, err
	}
	defer table.Close()

	var out []string
	for table.Next() {
		if v, ok := table.Record().Value().(string); ok {
			out = append(out, v)
		}
	}
	return out, table.Err()
}

// Close releases the client
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// BuildRangeQuery returns the Flux query reading one source's features in
// the inclusive interval [start, end], pivoted to one row per timestamp
func BuildRangeQuery(bucket string, sel types.SourceSelector, start, end time.Time) (string, error) {
	if err := validateName(sel.Source); err != nil {
		return "", fmt.Errorf("invalid source: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n",
		start.UTC().Format(time.RFC3339Nano), end.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q)\n", sel.Source)

	if len(sel.Features) > 0 {
		clauses := make([]string, len(sel.Features))
		for i, f := range sel.Features {
			if err := validateName(f); err != nil {
				return "", fmt.Errorf("invalid feature: %w", err)
			}
			clauses[i] = fmt.Sprintf("r._field == %q", f)
		}
		fmt.Fprintf(&b, "  |> filter(fn: (r) => %s)\n", strings.Join(clauses, " or "))
	}

	b.WriteString(`  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")` + "\n")
	b.WriteString(`  |> sort(columns: ["_time"], desc: false)`)

	return b.String(), nil
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%q must be 1-128 letters, digits, dots, dashes or underscores", name)
	}
	return nil
}

// recordFeatures picks the numeric feature columns of a pivoted row. With
// no features listed every field column is taken; Flux bookkeeping columns
// start with an underscore or are named result or table.
func recordFeatures(values map[string]interface{}, features []string) map[string]float64 {
	out := make(map[string]float64, len(features))
	if len(features) > 0 {
		for _, f := range features {
			if v, ok := toFloat(values[f]); ok {
				out[f] = v
			}
		}
		return out
	}

	for k, raw := range values {
		if strings.HasPrefix(k, "_") || k == "result" || k == "table" {
			continue
		}
		if v, ok := toFloat(raw); ok {
			out[k] = v
		}
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

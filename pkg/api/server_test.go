package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/storage"
	"github.com/vjranagit/patternsearch/pkg/types"
)

var base = time.Date(2021, 11, 27, 19, 35, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, storage.Store) {
	t.Helper()

	store, err := storage.NewStorage(&storage.Config{InMemory: true, CompressionLevel: 1})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	searcher := search.NewSearcher(store, &search.Options{Workers: 2, Probe: search.StaticProbe(true)})
	srv := httptest.NewServer(NewServer(":0", store, searcher, opts...).Handler())
	t.Cleanup(srv.Close)

	return srv, store
}

func seed(t *testing.T, store storage.Store, values ...float64) {
	t.Helper()

	series := types.SourceSeries{Source: "ir_data"}
	for i, v := range values {
		series.Samples = append(series.Samples, types.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Features:  map[string]float64{"left": v},
		})
	}
	require.NoError(t, store.Write(context.Background(), &types.WriteRequest{Series: []types.SourceSeries{series}}))
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestWriteAndRange(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/write", types.WriteRequest{Series: []types.SourceSeries{{
		Source: "ir_data",
		Samples: []types.Sample{
			{Timestamp: base, Features: map[string]float64{"left": 1, "right": 2}},
			{Timestamp: base.Add(time.Second), Features: map[string]float64{"left": 3, "right": 4}},
		},
	}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	q := url.Values{}
	q.Set("start", base.Format(time.RFC3339))
	q.Set("end", base.Add(time.Second).Format(time.RFC3339))
	q.Add("source", "ir_data:right")
	q.Add("source", "odom")

	rangeResp, err := http.Get(srv.URL + "/api/v1/range?" + q.Encode())
	require.NoError(t, err)
	defer rangeResp.Body.Close()
	require.Equal(t, http.StatusOK, rangeResp.StatusCode)

	var result types.RangeResult
	require.NoError(t, json.NewDecoder(rangeResp.Body).Decode(&result))
	require.Len(t, result.Series, 2)
	assert.Equal(t, "ir_data", result.Series[0].Source)
	require.Len(t, result.Series[0].Samples, 2)
	assert.Equal(t, map[string]float64{"right": 4}, result.Series[0].Samples[1].Features)
	assert.Equal(t, "odom", result.Series[1].Source)
	assert.Empty(t, result.Series[1].Samples)
}

func TestWriteRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/write", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/write", types.WriteRequest{Series: []types.SourceSeries{{}}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/api/v1/write")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestRangeRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, query := range []string{
		"end=2021-11-27T19:35:00Z&source=ir_data",
		"start=2021-11-27T19:35:00Z&end=2021-11-27T19:36:00Z",
		"start=2021-11-27T19:36:00Z&end=2021-11-27T19:35:00Z&source=ir_data",
	} {
		resp, err := http.Get(srv.URL + "/api/v1/range?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestSearchInlinePattern(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store, 5, 7, 1, 2, 2, 9)

	resp := postJSON(t, srv.URL+"/api/v1/search", SearchRequest{
		Pattern: []types.SourceSeries{{Source: "ir_data", Samples: []types.Sample{
			{Timestamp: time.Unix(0, 0).UTC(), Features: map[string]float64{"left": 1}},
			{Timestamp: time.Unix(1, 0).UTC(), Features: map[string]float64{"left": 2}},
		}}},
		Start:      base,
		End:        base.Add(6 * time.Second),
		Resolution: "1s",
		ResultSize: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result search.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Matches, 2)
	assert.True(t, base.Add(2*time.Second).Equal(result.Matches[0].Anchor))
	assert.InDelta(t, 0, result.Matches[0].Distance, 1e-9)
	assert.Equal(t, search.StrategyExact, result.Strategy)
}

func TestSearchStoredPattern(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store, 5, 7, 1, 2, 2, 9, 5, 7, 1)

	resp := postJSON(t, srv.URL+"/api/v1/search", SearchRequest{
		PatternStart:   base,
		PatternEnd:     base.Add(2 * time.Second),
		PatternSources: []types.SourceSelector{{Source: "ir_data", Features: []string{"left"}}},
		Start:          base.Add(3 * time.Second),
		End:            base.Add(10 * time.Second),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result search.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.NotEmpty(t, result.Matches)
	assert.True(t, base.Add(6*time.Second).Equal(result.Matches[0].Anchor))
	assert.InDelta(t, 0, result.Matches[0].Distance, 1e-9)
}

func TestSearchValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	pattern := []types.SourceSeries{{Source: "ir_data", Samples: []types.Sample{
		{Timestamp: base, Features: map[string]float64{"left": 1}},
	}}}

	tests := []struct {
		name string
		req  SearchRequest
	}{
		{"start after end", SearchRequest{Pattern: pattern, Start: base.Add(time.Hour), End: base}},
		{"bad resolution", SearchRequest{Pattern: pattern, Start: base, End: base.Add(time.Hour), Resolution: "fast"}},
		{"negative resolution", SearchRequest{Pattern: pattern, Start: base, End: base.Add(time.Hour), Resolution: "-1s"}},
		{"pattern out of order", SearchRequest{Pattern: []types.SourceSeries{{Source: "ir_data", Samples: []types.Sample{
			{Timestamp: base.Add(time.Second), Features: map[string]float64{"left": 1}},
			{Timestamp: base, Features: map[string]float64{"left": 2}},
		}}}, Start: base, End: base.Add(time.Hour)}},
		{"stored pattern missing", SearchRequest{
			PatternStart:   base,
			PatternEnd:     base.Add(time.Second),
			PatternSources: []types.SourceSelector{{Source: "ir_data"}},
			Start:          base,
			End:            base.Add(time.Hour),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/search", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestSources(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store, 1, 2, 3)

	resp, err := http.Get(srv.URL + "/api/v1/sources")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Sources []types.SourceInfo `json:"sources"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Sources, 1)
	assert.Equal(t, "ir_data", body.Sources[0].Name)
	assert.Equal(t, uint64(3), body.Sources[0].Samples)
	assert.Equal(t, []string{"left"}, body.Sources[0].Features)
}

func TestWritesGoThroughBatchWriter(t *testing.T) {
	store, err := storage.NewStorage(&storage.Config{InMemory: true, CompressionLevel: 1})
	require.NoError(t, err)
	defer store.Close()

	wal, err := storage.NewWAL(t.TempDir())
	require.NoError(t, err)
	defer wal.Close()

	batch := storage.NewBatchWriter(store, wal, 100, time.Hour)
	defer batch.Close()

	srv := httptest.NewServer(NewServer(":0", store, search.NewSearcher(store, nil), WithWriter(batch)).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/v1/write", types.WriteRequest{Series: []types.SourceSeries{{
		Source:  "ir_data",
		Samples: []types.Sample{{Timestamp: base, Features: map[string]float64{"left": 1}}},
	}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sources, err := store.Sources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources)

	require.NoError(t, batch.Flush(context.Background()))
	sources, err = store.Sources(context.Background())
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	seed(t, store, 1, 2, 3)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

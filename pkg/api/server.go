package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vjranagit/patternsearch/pkg/search"
	"github.com/vjranagit/patternsearch/pkg/storage"
	"github.com/vjranagit/patternsearch/pkg/types"
)

// Writer accepts sample writes. Both storage.Store and
// storage.BatchWriter satisfy it.
type Writer interface {
	Write(ctx context.Context, req *types.WriteRequest) error
}

// Server implements the HTTP API server
type Server struct {
	store      storage.Store
	writer     Writer
	searcher   *search.Searcher
	addr       string
	timeout    time.Duration
	resolution time.Duration
	resultSize int
	logger     *slog.Logger
	server     *http.Server
}

// Option customizes a Server
type Option func(*Server)

// WithWriter routes writes through w instead of the store
func WithWriter(w Writer) Option {
	return func(s *Server) { s.writer = w }
}

// WithLogger sets the request logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTimeout sets the read timeout of the HTTP server
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithSearchDefaults sets the resolution and result size used when a
// search request leaves them out
func WithSearchDefaults(resolution time.Duration, resultSize int) Option {
	return func(s *Server) {
		s.resolution = resolution
		s.resultSize = resultSize
	}
}

// NewServer creates a new API server
func NewServer(addr string, store storage.Store, searcher *search.Searcher, opts ...Option) *Server {
	s := &Server{
		store:      store,
		writer:     store,
		searcher:   searcher,
		addr:       addr,
		timeout:    30 * time.Second,
		resolution: time.Second,
		resultSize: search.DefaultResultSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/write", s.handleWrite)
	mux.HandleFunc("GET /api/v1/range", s.handleRange)
	mux.HandleFunc("POST /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/sources", s.handleSources)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.logRequests(mux)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: s.timeout,
	}

	s.logger.Info("API server listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// handleWrite handles sample writes
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req types.WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	for _, series := range req.Series {
		if series.Source == "" {
			http.Error(w, "Invalid request: series without source", http.StatusBadRequest)
			return
		}
	}

	if err := s.writer.Write(r.Context(), &req); err != nil {
		http.Error(w, fmt.Sprintf("Write failed: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}

// handleRange returns raw samples. Sources are given as
// source=name or source=name:feature1,feature2 and may repeat.
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	start, err := time.Parse(time.RFC3339Nano, q.Get("start"))
	if err != nil {
		http.Error(w, "Invalid start time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339Nano, q.Get("end"))
	if err != nil {
		http.Error(w, "Invalid end time", http.StatusBadRequest)
		return
	}

	sources, err := types.ParseSelectors(q["source"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.store.Range(r.Context(), &types.RangeRequest{Start: start, End: end, Sources: sources})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidRange) {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("Range failed: %v", err), status)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SearchRequest is the body of a search call. The pattern is either given
// inline or read from the store between PatternStart and PatternEnd for
// PatternSources.
type SearchRequest struct {
	Pattern        []types.SourceSeries   `json:"pattern,omitempty"`
	PatternStart   time.Time              `json:"pattern_start,omitempty"`
	PatternEnd     time.Time              `json:"pattern_end,omitempty"`
	PatternSources []types.SourceSelector `json:"pattern_sources,omitempty"`

	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Resolution string    `json:"resolution,omitempty"`
	Step       int       `json:"step,omitempty"`
	ResultSize int       `json:"result_size,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	resolution := s.resolution
	if req.Resolution != "" {
		d, err := time.ParseDuration(req.Resolution)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid resolution: %v", err), http.StatusBadRequest)
			return
		}
		resolution = d
	}

	ctx := r.Context()
	pattern := req.Pattern
	if len(pattern) == 0 {
		var err error
		pattern, err = search.PatternFromRange(ctx, s.store, req.PatternStart, req.PatternEnd, req.PatternSources)
		if err != nil {
			s.searchError(w, err)
			return
		}
	}

	resultSize := s.resultSize
	if req.ResultSize > 0 {
		resultSize = req.ResultSize
	}
	opts := []search.QueryOption{search.WithResultSize(resultSize)}
	if req.Step > 0 {
		opts = append(opts, search.WithStep(req.Step))
	}

	query, err := search.NewSearchQuery(pattern, req.Start, req.End, resolution, opts...)
	if err != nil {
		s.searchError(w, err)
		return
	}

	result, err := s.searcher.Search(ctx, query)
	if err != nil {
		s.searchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) searchError(w http.ResponseWriter, err error) {
	if errors.Is(err, search.ErrInvalidQuery) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Error("search failed", "error", err)
	http.Error(w, fmt.Sprintf("Search failed: %v", err), http.StatusInternalServerError)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.Sources(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Listing sources failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

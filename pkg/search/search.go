package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vjranagit/patternsearch/pkg/types"
)

// Reader is the storage capability the search reads candidate windows
// from. Range must return, for every requested source and in request
// order, the samples inside the inclusive interval sorted by timestamp.
// A series without samples means no coverage.
type Reader interface {
	Range(ctx context.Context, req *types.RangeRequest) (*types.RangeResult, error)
}

// Options tunes how a Searcher runs
type Options struct {
	// Workers bounds how many windows are evaluated concurrently
	Workers int

	// FetchTimeout bounds each storage read. Zero disables the timeout.
	FetchTimeout time.Duration

	// FetchRate limits storage reads per second. Zero is unlimited.
	FetchRate float64

	// Radius is the FastDTW search radius
	Radius int

	// MaxExactCells disables the exact strategy for a search whose
	// query rows times window rows exceed it. Zero means no limit.
	MaxExactCells int64

	Probe  BackendProbe
	Sink   ProgressSink
	Logger *slog.Logger
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() *Options {
	return &Options{
		Workers:      4,
		FetchTimeout: 30 * time.Second,
		Radius:       1,
		Probe:        StaticProbe(true),
	}
}

// Result is the outcome of one search
type Result struct {
	ID             string        `json:"id"`
	Strategy       string        `json:"strategy"`
	Matches        []Match       `json:"matches"`
	Step           int           `json:"step"`
	WindowDuration time.Duration `json:"window_duration"`
	QueryRows      int           `json:"query_rows"`
	Anchors        int           `json:"anchors"`
	Evaluated      int           `json:"evaluated"`
	Skipped        int           `json:"skipped"`
	Malformed      int           `json:"malformed"`
	Elapsed        time.Duration `json:"elapsed"`
}

// Searcher ranks the windows of a time range by their DTW distance to a
// query pattern. A Searcher holds no per-search state and may run several
// searches at once.
type Searcher struct {
	reader Reader
	opts   Options
	logger *slog.Logger
}

// NewSearcher creates a searcher reading candidate windows from reader
func NewSearcher(reader Reader, opts *Options) *Searcher {
	if opts == nil {
		opts = DefaultOptions()
	}

	o := *opts
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Radius < 1 {
		o.Radius = 1
	}
	if o.Probe == nil {
		o.Probe = StaticProbe(true)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Searcher{
		reader: reader,
		opts:   o,
		logger: logger,
	}
}

// Search evaluates every window of q and returns the q.ResultSize closest
// ones. Windows a source has no samples for are skipped silently, windows
// with malformed samples are skipped with a warning. Storage and probe
// failures abort the search.
func (s *Searcher) Search(ctx context.Context, q *SearchQuery) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Layout) != len(q.Dataset) {
		return nil, invalidQuery("query has no feature layout, build it with NewSearchQuery")
	}

	started := time.Now()
	id := uuid.NewString()
	logger := s.logger.With("search_id", id)

	query, err := Resample(q.Dataset, q.Layout, q.Resolution)
	if err != nil {
		var malformed *MalformedDataError
		if errors.As(err, &malformed) {
			return nil, fmt.Errorf("%w: query dataset: %w", ErrInvalidQuery, err)
		}
		return nil, fmt.Errorf("failed to resample query dataset: %w", err)
	}

	step := q.Step
	if step == 0 {
		step = max(query.Rows/3, 1)
	}
	windowDuration := time.Duration(query.Rows) * q.Resolution
	windows := NewWindows(q.Start, q.End, windowDuration, time.Duration(step)*q.Resolution)
	total := windows.Count()

	strategy, err := SelectStrategy(ctx, s.probeFor(query.Rows), s.opts.Radius, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("search started",
		"strategy", strategy.Name(),
		"sources", len(q.Layout),
		"columns", query.Cols,
		"query_rows", query.Rows,
		"step", step,
		"window", windowDuration,
		"anchors", total)

	var limiter *rate.Limiter
	if s.opts.FetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.FetchRate), 1)
	}

	top := NewTopK(q.ResultSize)
	tracker := newProgressTracker(s.opts.Sink, id, total, s.opts.Workers)
	var evaluated, skipped, malformed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for anchor := range windows.All() {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			windowStart := time.Now()
			outcome, distance, err := s.evaluate(gctx, q, query, strategy, limiter, anchor, windowDuration)
			if err != nil {
				return err
			}

			switch outcome {
			case outcomeScored:
				evaluated.Add(1)
				top.Add(Match{Anchor: anchor, Distance: distance})
			case outcomeGap:
				skipped.Add(1)
			case outcomeMalformed:
				malformed.Add(1)
			}
			windowsTotal.WithLabelValues(outcome).Inc()

			elapsed := time.Since(windowStart)
			windowSeconds.Observe(elapsed.Seconds())
			tracker.done(elapsed)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		searchesTotal.WithLabelValues(strategy.Name(), "failed").Inc()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		searchesTotal.WithLabelValues(strategy.Name(), "canceled").Inc()
		return nil, err
	}

	result := &Result{
		ID:             id,
		Strategy:       strategy.Name(),
		Matches:        top.Results(),
		Step:           step,
		WindowDuration: windowDuration,
		QueryRows:      query.Rows,
		Anchors:        total,
		Evaluated:      int(evaluated.Load()),
		Skipped:        int(skipped.Load()),
		Malformed:      int(malformed.Load()),
		Elapsed:        time.Since(started),
	}

	searchesTotal.WithLabelValues(strategy.Name(), "ok").Inc()
	searchDuration.Observe(result.Elapsed.Seconds())
	logger.Info("search finished",
		"matches", len(result.Matches),
		"evaluated", result.Evaluated,
		"skipped", result.Skipped,
		"malformed", result.Malformed,
		"elapsed", result.Elapsed)

	return result, nil
}

// evaluate fetches, resamples and scores the window starting at anchor
func (s *Searcher) evaluate(ctx context.Context, q *SearchQuery, query *Matrix, strategy Strategy,
	limiter *rate.Limiter, anchor time.Time, window time.Duration) (string, float64, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return "", 0, err
		}
	}

	fetchCtx := ctx
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}

	res, err := s.reader.Range(fetchCtx, &types.RangeRequest{
		Start:   anchor,
		End:     anchor.Add(window),
		Sources: q.Layout,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch window at %s: %w", anchor.Format(time.RFC3339Nano), err)
	}

	for _, sel := range q.Layout {
		series, ok := res.Lookup(sel.Source)
		if !ok || len(series.Samples) == 0 {
			s.logger.Debug("window skipped, no coverage", "anchor", anchor, "source", sel.Source)
			return outcomeGap, 0, nil
		}
	}

	candidate, err := Resample(res.Series, q.Layout, q.Resolution)
	if err != nil {
		var malformed *MalformedDataError
		if errors.As(err, &malformed) {
			s.logger.Warn("window skipped, malformed samples", "anchor", anchor, "error", err)
			return outcomeMalformed, 0, nil
		}
		return "", 0, fmt.Errorf("failed to resample window at %s: %w", anchor.Format(time.RFC3339Nano), err)
	}

	distance, err := strategy.Distance(query, candidate)
	if err != nil {
		return "", 0, fmt.Errorf("failed to score window at %s: %w", anchor.Format(time.RFC3339Nano), err)
	}

	return outcomeScored, distance, nil
}

// probeFor wraps the configured probe with the exact strategy cell budget
func (s *Searcher) probeFor(rows int) BackendProbe {
	if s.opts.MaxExactCells <= 0 {
		return s.opts.Probe
	}

	cells := int64(rows) * int64(rows+1)
	if cells <= s.opts.MaxExactCells {
		return s.opts.Probe
	}

	return ProbeFunc(func(context.Context) (bool, error) {
		s.logger.Debug("query too long for exact DTW", "cells", cells, "budget", s.opts.MaxExactCells)
		return false, nil
	})
}

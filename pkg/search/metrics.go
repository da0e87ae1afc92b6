package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patternsearch_searches_total",
		Help: "Searches run, by distance strategy and outcome",
	}, []string{"strategy", "outcome"})

	windowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patternsearch_windows_total",
		Help: "Candidate windows processed, by outcome",
	}, []string{"outcome"})

	windowSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patternsearch_window_duration_seconds",
		Help:    "Time to fetch, resample and score one candidate window",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patternsearch_search_duration_seconds",
		Help:    "Wall time of complete searches",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
	})
)

// window outcomes
const (
	outcomeScored    = "scored"
	outcomeGap       = "coverage_gap"
	outcomeMalformed = "malformed"
)

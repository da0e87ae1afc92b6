package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rangeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "patternsearch_storage_range_duration_seconds",
		Help:    "Time to read a multi-source range from storage",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
	})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "patternsearch_storage_cache_lookups_total",
		Help: "Range cache lookups by outcome",
	}, []string{"outcome"})

	walReplayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "patternsearch_storage_wal_replayed_entries_total",
		Help: "WAL entries replayed into storage on startup",
	})
)

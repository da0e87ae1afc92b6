package search

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Progress is a snapshot of a running search
type Progress struct {
	SearchID      string
	Processed     int
	Total         int
	Percent       int
	Elapsed       time.Duration
	MeanPerAnchor time.Duration
	Remaining     time.Duration
}

// ProgressSink receives progress updates. Report may be called from
// several goroutines, but never concurrently for the same search.
type ProgressSink interface {
	Report(p Progress)
}

// ProgressFunc adapts a function to ProgressSink
type ProgressFunc func(p Progress)

// Report implements ProgressSink
func (f ProgressFunc) Report(p Progress) { f(p) }

// LogSink reports progress through a structured logger
type LogSink struct {
	Logger *slog.Logger
}

// Report implements ProgressSink
func (s LogSink) Report(p Progress) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("search progress",
		"search_id", p.SearchID,
		"percent", p.Percent,
		"processed", p.Processed,
		"total", p.Total,
		"remaining", p.Remaining.Round(time.Second))
}

// WriterSink prints a single updating console line
type WriterSink struct {
	W io.Writer
}

// Report implements ProgressSink
func (s WriterSink) Report(p Progress) {
	fmt.Fprintf(s.W, "\rProgress: %d%% estimated time left: %s", p.Percent, p.Remaining.Round(time.Second))
	if p.Processed >= p.Total {
		fmt.Fprintln(s.W)
	}
}

// progressTracker accumulates per-anchor timings for one search
type progressTracker struct {
	mu          sync.Mutex
	sink        ProgressSink
	id          string
	total       int
	workers     int
	started     time.Time
	processed   int
	busy        time.Duration
	lastPercent int
}

func newProgressTracker(sink ProgressSink, id string, total, workers int) *progressTracker {
	return &progressTracker{
		sink:        sink,
		id:          id,
		total:       total,
		workers:     max(workers, 1),
		started:     time.Now(),
		lastPercent: -1,
	}
}

// done records one processed anchor that took d
func (t *progressTracker) done(d time.Duration) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.processed++
	t.busy += d

	p := t.snapshotLocked()
	if p.Percent == t.lastPercent && t.processed < t.total {
		return
	}
	t.lastPercent = p.Percent
	if t.sink != nil {
		t.sink.Report(p)
	}
}

func (t *progressTracker) snapshotLocked() Progress {
	p := Progress{
		SearchID:  t.id,
		Processed: t.processed,
		Total:     t.total,
		Elapsed:   time.Since(t.started),
	}
	if t.total > 0 {
		p.Percent = min(t.processed*100/t.total, 100)
	}
	if t.processed > 0 {
		p.MeanPerAnchor = t.busy / time.Duration(t.processed)
		if left := t.total - t.processed; left > 0 {
			p.Remaining = p.MeanPerAnchor * time.Duration(left) / time.Duration(t.workers)
		}
	}
	return p
}

package search

import (
	"iter"
	"time"
)

// Windows enumerates candidate window anchors: Start, Start+Step, ...
// while the anchor is strictly before Bound. The zero Step yields nothing.
type Windows struct {
	Start time.Time
	Bound time.Time
	Step  time.Duration
}

// NewWindows returns the anchors of windows of length duration that fit in
// [start, end) when advancing by step
func NewWindows(start, end time.Time, duration, step time.Duration) Windows {
	return Windows{
		Start: start,
		Bound: end.Add(-duration),
		Step:  step,
	}
}

// All returns a lazy sequence of anchors. Each call restarts from Start.
func (w Windows) All() iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if w.Step <= 0 {
			return
		}
		for anchor := w.Start; anchor.Before(w.Bound); anchor = anchor.Add(w.Step) {
			if !yield(anchor) {
				return
			}
		}
	}
}

// Count returns how many anchors All yields
func (w Windows) Count() int {
	if w.Step <= 0 || !w.Start.Before(w.Bound) {
		return 0
	}
	span := w.Bound.Sub(w.Start)
	n := span / w.Step
	if span%w.Step != 0 {
		n++
	}
	return int(n)
}

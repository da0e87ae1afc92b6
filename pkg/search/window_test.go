package search

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowsAnchors(t *testing.T) {
	w := NewWindows(at(0), at(10), 0, 3*time.Second)

	got := slices.Collect(w.All())
	assert.Equal(t, []time.Time{at(0), at(3), at(6), at(9)}, got)
	assert.Equal(t, len(got), w.Count())
}

func TestWindowsBoundIsExclusive(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		step     time.Duration
		want     []time.Time
	}{
		{"fits twice", 2 * time.Second, 3 * time.Second, []time.Time{at(0), at(3), at(6)}},
		{"last anchor equals bound", 4 * time.Second, 3 * time.Second, []time.Time{at(0), at(3)}},
		{"window longer than range", 11 * time.Second, time.Second, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindows(at(0), at(10), tt.duration, tt.step)
			got := slices.Collect(w.All())
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(got), w.Count())
			for _, anchor := range got {
				assert.True(t, anchor.Add(tt.duration).Before(at(10)))
			}
		})
	}
}

func TestWindowsRestartable(t *testing.T) {
	w := NewWindows(at(0), at(100), 0, 10*time.Second)

	var first []time.Time
	for anchor := range w.All() {
		first = append(first, anchor)
		if len(first) == 3 {
			break
		}
	}

	assert.Equal(t, []time.Time{at(0), at(10), at(20)}, first)
	assert.Len(t, slices.Collect(w.All()), 10)
}

func TestWindowsZeroStep(t *testing.T) {
	w := NewWindows(at(0), at(10), 0, 0)
	assert.Empty(t, slices.Collect(w.All()))
	assert.Zero(t, w.Count())
}

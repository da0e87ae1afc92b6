package search

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// Match is one scored candidate window
type Match struct {
	Anchor   time.Time `json:"anchor"`
	Distance float64   `json:"distance"`
}

// less orders matches by distance, then by anchor
func (m Match) less(o Match) bool {
	if m.Distance != o.Distance {
		return m.Distance < o.Distance
	}
	return m.Anchor.Before(o.Anchor)
}

// matchHeap is a max-heap: the worst kept match sits at index 0
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK keeps the k best matches seen so far. It is safe for concurrent use.
type TopK struct {
	mu   sync.Mutex
	k    int
	heap matchHeap
}

// NewTopK creates a collector for the k smallest matches
func NewTopK(k int) *TopK {
	return &TopK{k: k, heap: make(matchHeap, 0, max(k, 0))}
}

// Add offers a match to the collector
func (t *TopK) Add(m Match) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.k <= 0 {
		return
	}
	if len(t.heap) < t.k {
		heap.Push(&t.heap, m)
		return
	}
	if m.less(t.heap[0]) {
		t.heap[0] = m
		heap.Fix(&t.heap, 0)
	}
}

// Results returns the kept matches, best first
func (t *TopK) Results() []Match {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Match, len(t.heap))
	copy(out, t.heap)
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// Rank returns the k smallest matches of an already collected list
func Rank(matches []Match, k int) []Match {
	top := NewTopK(k)
	for _, m := range matches {
		top.Add(m)
	}
	return top.Results()
}

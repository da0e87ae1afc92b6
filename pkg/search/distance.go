package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Strategy names
const (
	StrategyExact       = "exact"
	StrategyApproximate = "approximate"
)

// Strategy scores the similarity of two matrices with the same column
// count. Lower is more similar; identical matrices score zero.
type Strategy interface {
	Name() string
	Distance(a, b *Matrix) (float64, error)
}

// BackendProbe reports whether the exact strategy may run in the current
// environment. It is asked once per search.
type BackendProbe interface {
	ExactAvailable(ctx context.Context) (bool, error)
}

// StaticProbe answers every probe with its own value
type StaticProbe bool

// ExactAvailable implements BackendProbe
func (p StaticProbe) ExactAvailable(context.Context) (bool, error) {
	return bool(p), nil
}

// ProbeFunc adapts a function to BackendProbe
type ProbeFunc func(ctx context.Context) (bool, error)

// ExactAvailable implements BackendProbe
func (f ProbeFunc) ExactAvailable(ctx context.Context) (bool, error) {
	return f(ctx)
}

// SelectStrategy picks the exact strategy when the probe allows it and
// falls back to FastDTW with the given radius otherwise
func SelectStrategy(ctx context.Context, probe BackendProbe, radius int, logger *slog.Logger) (Strategy, error) {
	if probe == nil {
		probe = StaticProbe(true)
	}

	ok, err := probe.ExactAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe exact DTW backend: %w", err)
	}
	if ok {
		return ExactDTW{}, nil
	}

	if logger != nil {
		logger.Warn("exact DTW backend unavailable, using FastDTW approximation for this search",
			"radius", radius)
	}
	return FastDTW{Radius: radius}, nil
}

func checkShapes(a, b *Matrix) error {
	if a.Cols != b.Cols {
		return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, a.Cols, b.Cols)
	}
	if a.Rows == 0 || b.Rows == 0 {
		return fmt.Errorf("cannot compare empty matrix (%d and %d rows)", a.Rows, b.Rows)
	}
	return nil
}

// ExactDTW is the full multivariate DTW: squared Euclidean local cost,
// square root of the accumulated cost. Cells that already exceed the cost
// of a simple lockstep alignment are pruned.
type ExactDTW struct{}

// Name implements Strategy
func (ExactDTW) Name() string { return StrategyExact }

// Distance implements Strategy
func (ExactDTW) Distance(a, b *Matrix) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}

	n, m := a.Rows, b.Rows
	ub := lockstepCost(a, b)
	limit := ub*(1+1e-9) + 1e-12
	inf := math.Inf(1)

	prev := make([]float64, m+1)
	cur := make([]float64, m+1)
	for j := range prev {
		prev[j] = inf
	}
	prev[0] = 0
	lo, hi := 0, 0

	for i := 1; i <= n; i++ {
		for j := range cur {
			cur[j] = inf
		}
		ai := a.Row(i - 1)
		newLo, newHi := -1, -1

		for j := max(lo, 1); j <= m; j++ {
			best := min(prev[j-1], prev[j], cur[j-1])
			if math.IsInf(best, 1) {
				if j > hi+1 {
					break
				}
				continue
			}

			v := best + sqEuclidean(ai, b.Row(j-1))
			if v > limit {
				continue
			}
			cur[j] = v
			if newLo < 0 {
				newLo = j
			}
			newHi = j
		}

		if newLo < 0 {
			return math.Sqrt(ub), nil
		}
		prev, cur = cur, prev
		lo, hi = newLo, newHi
	}

	if math.IsInf(prev[m], 1) {
		return math.Sqrt(ub), nil
	}
	return math.Sqrt(prev[m]), nil
}

// lockstepCost is the cost of aligning rows pairwise and matching the
// leftover rows of the longer matrix to the last row of the shorter one.
// That is a valid warping path, so it bounds the DTW cost from above.
func lockstepCost(a, b *Matrix) float64 {
	n, m := a.Rows, b.Rows
	k := min(n, m)

	var sum float64
	for i := 0; i < k; i++ {
		sum += sqEuclidean(a.Row(i), b.Row(i))
	}
	for i := k; i < n; i++ {
		sum += sqEuclidean(a.Row(i), b.Row(m-1))
	}
	for j := k; j < m; j++ {
		sum += sqEuclidean(a.Row(n-1), b.Row(j))
	}
	return sum
}

func sqEuclidean(x, y []float64) float64 {
	var sum float64
	for k := range x {
		d := x[k] - y[k]
		sum += d * d
	}
	return sum
}

func euclidean(x, y []float64) float64 {
	return math.Sqrt(sqEuclidean(x, y))
}

// FastDTW approximates DTW in linear time: it solves a half-resolution
// problem recursively and only refines cells within Radius of the
// projected coarse path. The local cost is the Euclidean distance and the
// result is the summed cost along the path.
type FastDTW struct {
	Radius int
}

// Name implements Strategy
func (FastDTW) Name() string { return StrategyApproximate }

// Distance implements Strategy
func (f FastDTW) Distance(a, b *Matrix) (float64, error) {
	if err := checkShapes(a, b); err != nil {
		return 0, err
	}

	radius := max(f.Radius, 1)
	d, _ := fastDTW(matrixRows(a), matrixRows(b), radius)
	return d, nil
}

type cell struct{ i, j int }

// band holds, per row, the inclusive column range the DP may visit
type band struct {
	lo []int
	hi []int
}

func fastDTW(x, y [][]float64, radius int) (float64, []cell) {
	minSize := radius + 2
	if len(x) < minSize || len(y) < minSize {
		return bandDTW(x, y, fullBand(len(x), len(y)))
	}

	_, coarse := fastDTW(halve(x), halve(y), radius)
	return bandDTW(x, y, expandBand(coarse, len(x), len(y), radius))
}

func matrixRows(m *Matrix) [][]float64 {
	rows := make([][]float64, m.Rows)
	for i := range rows {
		rows[i] = m.Row(i)
	}
	return rows
}

// halve averages consecutive row pairs; an odd trailing row is dropped
func halve(x [][]float64) [][]float64 {
	out := make([][]float64, len(x)/2)
	for i := range out {
		a, b := x[2*i], x[2*i+1]
		row := make([]float64, len(a))
		for k := range row {
			row[k] = (a[k] + b[k]) / 2
		}
		out[i] = row
	}
	return out
}

func fullBand(n, m int) band {
	b := band{lo: make([]int, n), hi: make([]int, n)}
	for i := range b.hi {
		b.hi[i] = m - 1
	}
	return b
}

// expandBand projects a coarse path onto the full-resolution grid, widened
// by radius coarse cells in every direction. The band is then made
// monotone so that (n-1, m-1) stays reachable from (0, 0).
func expandBand(path []cell, n, m, radius int) band {
	b := band{lo: make([]int, n), hi: make([]int, n)}
	for i := range b.lo {
		b.lo[i] = m
		b.hi[i] = -1
	}

	for _, p := range path {
		jlo := max(2*(p.j-radius), 0)
		jhi := min(2*(p.j+radius)+1, m-1)
		for ci := p.i - radius; ci <= p.i+radius; ci++ {
			for fi := 2 * ci; fi <= 2*ci+1; fi++ {
				if fi < 0 || fi >= n {
					continue
				}
				b.lo[fi] = min(b.lo[fi], jlo)
				b.hi[fi] = max(b.hi[fi], jhi)
			}
		}
	}

	for i := range b.lo {
		if b.hi[i] < 0 {
			if i == 0 {
				b.lo[i], b.hi[i] = 0, 0
			} else {
				b.lo[i], b.hi[i] = b.lo[i-1], b.hi[i-1]
			}
		}
	}

	b.lo[0] = 0
	b.hi[n-1] = m - 1
	for i := 1; i < n; i++ {
		b.hi[i] = max(b.hi[i], b.hi[i-1])
	}
	for i := n - 2; i >= 0; i-- {
		b.lo[i] = min(b.lo[i], b.lo[i+1])
	}
	for i := 1; i < n; i++ {
		if b.lo[i] > b.hi[i-1]+1 {
			b.lo[i] = b.hi[i-1] + 1
		}
	}

	return b
}

// bandDTW runs DTW restricted to the band and returns the cost of the
// best path together with the path itself
func bandDTW(x, y [][]float64, b band) (float64, []cell) {
	n, m := len(x), len(y)
	inf := math.Inf(1)

	cost := make([][]float64, n)
	get := func(i, j int) float64 {
		if i < 0 || j < 0 || j < b.lo[i] || j > b.hi[i] {
			return inf
		}
		return cost[i][j-b.lo[i]]
	}

	for i := 0; i < n; i++ {
		cost[i] = make([]float64, b.hi[i]-b.lo[i]+1)
		for j := b.lo[i]; j <= b.hi[i]; j++ {
			c := euclidean(x[i], y[j])
			if i == 0 && j == 0 {
				cost[i][0] = c
				continue
			}
			cost[i][j-b.lo[i]] = c + min(get(i-1, j-1), get(i-1, j), get(i, j-1))
		}
	}

	path := []cell{{n - 1, m - 1}}
	i, j := n-1, m-1
	for i > 0 || j > 0 {
		next := cell{i - 1, j - 1}
		best := get(i-1, j-1)
		if v := get(i-1, j); v < best {
			next, best = cell{i - 1, j}, v
		}
		if v := get(i, j-1); v < best {
			next = cell{i, j - 1}
		}
		i, j = next.i, next.j
		path = append(path, next)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}

	return get(n-1, m-1), path
}

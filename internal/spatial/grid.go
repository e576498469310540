package spatial

import (
	"math"

	"github.com/signalsfoundry/platesim/model"
)

type cellKey [3]int

// Grid is a uniform hash grid with cubic cells. Nearest searches shells of
// cells outward from the query cell, clipped to the occupied bounding box, and
// stops once no unvisited shell can hold a closer point.
type Grid struct {
	dims     int
	cellSize float64
	cells    map[cellKey][]model.Position
	count    int

	lo, hi cellKey
}

// NewGrid returns an empty grid index. The walker's cell length is the
// natural cell size.
func NewGrid(dims int, cellSize float64) *Grid {
	return &Grid{
		dims:     dims,
		cellSize: cellSize,
		cells:    make(map[cellKey][]model.Position),
	}
}

func (g *Grid) key(p model.Position) cellKey {
	var k cellKey
	for i := 0; i < g.dims; i++ {
		k[i] = int(math.Floor(p[i] / g.cellSize))
	}
	return k
}

func (g *Grid) Insert(p model.Position) {
	k := g.key(p)
	g.cells[k] = append(g.cells[k], p.Clone())
	if g.count == 0 {
		g.lo, g.hi = k, k
	} else {
		for i := 0; i < g.dims; i++ {
			g.lo[i] = min(g.lo[i], k[i])
			g.hi[i] = max(g.hi[i], k[i])
		}
	}
	g.count++
}

func (g *Grid) Len() int { return g.count }

func (g *Grid) Nearest(q model.Position) (model.Position, float64) {
	if g.count == 0 {
		return nil, inf
	}
	qk := g.key(q)

	// Shells closer than the bounding box are empty; shells beyond the far
	// corner of the box are too.
	start, stop := 0, 0
	for i := 0; i < g.dims; i++ {
		start = max(start, g.lo[i]-qk[i], qk[i]-g.hi[i])
		stop = max(stop, abs(qk[i]-g.lo[i]), abs(qk[i]-g.hi[i]))
	}

	var (
		best     model.Position
		bestDist = inf
	)
	if start > 0 {
		// Queries from outside the box would sweep many empty shells.
		return g.scanCells(q, qk)
	}
	for r := start; r <= stop; r++ {
		// Any point in shell r is at least (r-1) cells away along one axis.
		if r > 0 {
			gap := float64(r-1) * g.cellSize
			if gap*gap > bestDist {
				break
			}
		}
		best, bestDist = g.scanShell(q, qk, r, best, bestDist)
	}
	return best, bestDist
}

// scanCells visits every occupied cell, skipping those whose nearest face is
// already further away than the best candidate.
func (g *Grid) scanCells(q model.Position, qk cellKey) (model.Position, float64) {
	var (
		best     model.Position
		bestDist = inf
	)
	for k, pts := range g.cells {
		if r := chebyshev(k, qk, g.dims); r > 0 {
			gap := float64(r-1) * g.cellSize
			if gap*gap > bestDist {
				continue
			}
		}
		for _, p := range pts {
			if d := q.DistanceSquared(p); d < bestDist || (d == bestDist && less(p, best)) {
				best, bestDist = p, d
			}
		}
	}
	return best, bestDist
}

// less orders positions lexicographically so ties resolve independently of
// map iteration order.
func less(a, b model.Position) bool {
	if b == nil {
		return true
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// scanShell visits the occupied cells at Chebyshev distance exactly r from qk.
func (g *Grid) scanShell(q model.Position, qk cellKey, r int, best model.Position, bestDist float64) (model.Position, float64) {
	var from, to cellKey
	for i := 0; i < g.dims; i++ {
		from[i] = max(qk[i]-r, g.lo[i])
		to[i] = min(qk[i]+r, g.hi[i])
		if from[i] > to[i] {
			return best, bestDist
		}
	}

	var k cellKey
	var walk func(axis int)
	walk = func(axis int) {
		if axis == g.dims {
			if chebyshev(k, qk, g.dims) != r {
				return
			}
			if pts, ok := g.cells[k]; ok {
				best, bestDist = scan(pts, q, best, bestDist)
			}
			return
		}
		for c := from[axis]; c <= to[axis]; c++ {
			k[axis] = c
			walk(axis + 1)
		}
	}
	walk(0)
	return best, bestDist
}

func chebyshev(a, b cellKey, dims int) int {
	d := 0
	for i := 0; i < dims; i++ {
		d = max(d, abs(a[i]-b[i]))
	}
	return d
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

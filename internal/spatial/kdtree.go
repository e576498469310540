package spatial

import (
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/signalsfoundry/platesim/model"
)

// DefaultMaxLeafSize is used when no leaf size is configured.
const DefaultMaxLeafSize = 10

// KDTree is an exact nearest-neighbour index backed by a gonum k-d tree.
//
// Recent inserts are kept in a small buffer of at most maxLeaf points that is
// scanned linearly. When the buffer fills it is folded into the tree; the tree
// is rebuilt balanced whenever it has doubled since the last rebuild, which
// keeps DLA's outward growth from degenerating the tree into a list.
type KDTree struct {
	maxLeaf int

	tree    *kdtree.Tree
	points  kdtree.Points
	pending []model.Position
	built   int
}

// NewKDTree returns an empty k-d tree index.
func NewKDTree(maxLeafSize int) *KDTree {
	if maxLeafSize <= 0 {
		maxLeafSize = DefaultMaxLeafSize
	}
	return &KDTree{maxLeaf: maxLeafSize}
}

func (k *KDTree) Insert(p model.Position) {
	c := p.Clone()
	k.points = append(k.points, kdtree.Point(c))
	k.pending = append(k.pending, c)
	if len(k.pending) >= k.maxLeaf {
		k.flush()
	}
}

func (k *KDTree) flush() {
	if k.tree == nil || len(k.points) >= 2*k.built {
		k.rebuild()
		return
	}
	for _, p := range k.pending {
		k.tree.Insert(kdtree.Point(p), false)
	}
	k.pending = k.pending[:0]
}

// rebuild constructs a balanced tree over every point. kdtree.New reorders
// its input, so it is handed a copy of the insertion-ordered slice.
func (k *KDTree) rebuild() {
	pts := append(kdtree.Points(nil), k.points...)
	k.tree = kdtree.New(pts, false)
	k.built = len(pts)
	k.pending = k.pending[:0]
}

func (k *KDTree) Nearest(q model.Position) (model.Position, float64) {
	var (
		best     model.Position
		bestDist = inf
	)
	if k.tree != nil {
		if c, d := k.tree.Nearest(kdtree.Point(q)); c != nil {
			best, bestDist = model.Position(c.(kdtree.Point)), d
		}
	}
	return scan(k.pending, q, best, bestDist)
}

func (k *KDTree) Len() int { return len(k.points) }

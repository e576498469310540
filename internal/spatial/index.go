// Package spatial provides exact nearest-neighbour indexes over plated points.
//
// Every implementation answers the same queries with the same results; they
// differ only in cost. Rebuilding or rebalancing is internal and never changes
// what Nearest returns.
package spatial

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/platesim/model"
)

// Index is the capability the walker and engine need from a spatial index.
type Index interface {
	// Insert adds a point. Any later Nearest call sees it.
	Insert(p model.Position)
	// Nearest returns the closest indexed point and the exact squared
	// Euclidean distance to q. An empty index returns (nil, +Inf).
	Nearest(q model.Position) (model.Position, float64)
	// Len returns the number of indexed points.
	Len() int
}

// Kind selects an Index implementation.
type Kind string

const (
	KindKDTree Kind = "kdtree"
	KindGrid   Kind = "grid"
	KindLinear Kind = "linear"
)

// Options carries the tuning knobs shared by index constructors.
type Options struct {
	Dims int
	// MaxLeafSize is the number of recent inserts the k-d tree scans
	// linearly before folding them into the tree.
	MaxLeafSize int
	// CellLength is the grid cell edge.
	CellLength float64
}

// ParseKind maps a textual index name onto a Kind.
func ParseKind(v string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(v))); k {
	case "":
		return KindKDTree, nil
	case KindKDTree, KindGrid, KindLinear:
		return k, nil
	default:
		return "", fmt.Errorf("unknown spatial index %q", v)
	}
}

// New constructs an empty index of the requested kind.
func New(kind Kind, opts Options) (Index, error) {
	switch kind {
	case KindKDTree, "":
		return NewKDTree(opts.MaxLeafSize), nil
	case KindGrid:
		if !(opts.CellLength > 0) {
			return nil, fmt.Errorf("grid index needs a positive cell length, got %v", opts.CellLength)
		}
		return NewGrid(opts.Dims, opts.CellLength), nil
	case KindLinear:
		return NewLinear(), nil
	default:
		return nil, fmt.Errorf("unknown spatial index %q", kind)
	}
}

var inf = math.Inf(1)

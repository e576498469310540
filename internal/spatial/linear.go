package spatial

import "github.com/signalsfoundry/platesim/model"

// Linear answers queries by scanning every point. It is the reference the
// other indexes are tested against and is fine for small clusters.
type Linear struct {
	points []model.Position
}

// NewLinear returns an empty linear-scan index.
func NewLinear() *Linear { return &Linear{} }

func (l *Linear) Insert(p model.Position) {
	l.points = append(l.points, p.Clone())
}

func (l *Linear) Nearest(q model.Position) (model.Position, float64) {
	return scan(l.points, q, nil, inf)
}

func (l *Linear) Len() int { return len(l.points) }

// scan returns the closer of (best, bestDist) and the nearest of points.
func scan(points []model.Position, q, best model.Position, bestDist float64) (model.Position, float64) {
	for _, p := range points {
		if d := q.DistanceSquared(p); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist
}

package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Diameter is the particle diameter in reduced units (unit particle radius).
const Diameter = 2.0

// SpatialEpsilon is the small separation used in distance calculations so a
// jump never lands exactly on a contact surface.
const SpatialEpsilon = 0.001

// Position is a point in D-dimensional space, D fixed for a run.
type Position []float64

// Origin returns the zero position in dims dimensions.
func Origin(dims int) Position {
	return make(Position, dims)
}

// Dims returns the number of coordinates.
func (p Position) Dims() int { return len(p) }

// Clone returns an independent copy of p.
func (p Position) Clone() Position {
	return append(Position(nil), p...)
}

// Norm returns the Euclidean norm of the position vector.
func (p Position) Norm() float64 {
	return floats.Norm(p, 2)
}

// DistanceSquared returns the squared Euclidean distance between two points.
func (p Position) DistanceSquared(other Position) float64 {
	var sum float64
	for i, v := range p {
		d := v - other[i]
		sum += d * d
	}
	return sum
}

// Sub returns p - other as a new position.
func (p Position) Sub(other Position) Position {
	return floats.SubTo(make(Position, len(p)), p, other)
}

// AddScaled returns p + alpha*dir as a new position.
func (p Position) AddScaled(alpha float64, dir Position) Position {
	return floats.AddScaledTo(make(Position, len(p)), p, alpha, dir)
}

// IsFinite reports whether every coordinate is a finite number.
func (p Position) IsFinite() bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Unit returns p scaled to unit length and the original length. A zero
// vector is returned unchanged with length 0.
func (p Position) Unit() (Position, float64) {
	n := p.Norm()
	if n == 0 {
		return p.Clone(), 0
	}
	return floats.ScaleTo(make(Position, len(p)), 1/n, p), n
}

func (p Position) String() string {
	switch len(p) {
	case 2:
		return fmt.Sprintf("(%.6g, %.6g)", p[0], p[1])
	case 3:
		return fmt.Sprintf("(%.6g, %.6g, %.6g)", p[0], p[1], p[2])
	default:
		return fmt.Sprintf("%v", []float64(p))
	}
}

// CheckFinite returns an InvariantViolation when p carries a NaN or Inf.
func CheckFinite(what string, p Position) error {
	if p.IsFinite() {
		return nil
	}
	return &InvariantViolation{Name: what, Value: p.String(), Reason: "non-finite coordinate"}
}

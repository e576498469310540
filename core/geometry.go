package core

import (
	"math"

	"github.com/signalsfoundry/platesim/model"
)

// contactDistance is the centre separation at or below which a walker touches
// a plated particle.
const contactDistance = model.Diameter + model.SpatialEpsilon

// bounceDistance is where a bounced walker is placed, measured from the
// contacting plated point along the outward normal.
const bounceDistance = model.Diameter + 2*model.SpatialEpsilon

// overlapDistance is the minimum separation allowed between two plated points.
const overlapDistance = model.Diameter - model.SpatialEpsilon

// FarJumpLength is the distance a walker may travel in one move when its
// nearest plated neighbour is sqrt(sq) away. Landing anywhere on that sphere
// leaves it exactly diameter+epsilon from the closest possible contact.
func FarJumpLength(sq float64) float64 {
	return math.Sqrt(sq) - model.Diameter - model.SpatialEpsilon
}

// FarJump moves pos along the unit direction dir by FarJumpLength(sq).
func FarJump(pos, dir model.Position, sq float64) model.Position {
	return pos.AddScaled(FarJumpLength(sq), dir)
}

// InContact reports whether a squared centre separation counts as a contact.
func InContact(sq float64) bool {
	d := contactDistance
	return sq <= d*d
}

// placeAlong returns anchor + distance*normal.
func placeAlong(anchor, normal model.Position, distance float64) model.Position {
	return anchor.AddScaled(distance, normal)
}

package core

import "github.com/signalsfoundry/platesim/model"

// Decision is the outcome of a contact.
type Decision int

const (
	// DecisionStick plates the walker at exactly one diameter from the
	// contacting point.
	DecisionStick Decision = iota
	// DecisionBounce pushes the walker back out along the contact normal.
	DecisionBounce
	// DecisionRejected means the draw said stick but the stick position
	// would overlap another plated point; the walker undoes its last step.
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionStick:
		return "stick"
	case DecisionBounce:
		return "bounce"
	case DecisionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// NeighbourFinder answers exact nearest-neighbour queries over the plated set.
// spatial.Index and state.AggregateState both satisfy it.
type NeighbourFinder interface {
	Nearest(q model.Position) (model.Position, float64)
}

// Contact describes a walker that came within contact distance of a plated
// point.
type Contact struct {
	Position        model.Position // walker centre
	Plated          model.Position // nearest plated point
	SquaredDistance float64
}

// Resolution is the resolver's verdict and the walker position it implies.
// Position is nil for DecisionRejected.
type Resolution struct {
	Decision Decision
	Position model.Position
}

// CollisionResolver decides whether a contact sticks.
type CollisionResolver struct {
	p       float64
	sampler *Sampler
	plated  NeighbourFinder
}

// NewCollisionResolver returns a resolver that sticks with probability p.
// plated is consulted to reject stick positions that would overlap.
func NewCollisionResolver(p float64, sampler *Sampler, plated NeighbourFinder) *CollisionResolver {
	return &CollisionResolver{p: p, sampler: sampler, plated: plated}
}

// Evaluate draws once from [0, 1) and resolves the contact.
func (r *CollisionResolver) Evaluate(c Contact) Resolution {
	stick := r.sampler.Uniform01() < r.p

	normal, n := c.Position.Sub(c.Plated).Unit()
	if n == 0 {
		normal = r.sampler.UnitVector(len(c.Position))
	}

	if !stick {
		return Resolution{Decision: DecisionBounce, Position: placeAlong(c.Plated, normal, bounceDistance)}
	}

	pos := placeAlong(c.Plated, normal, model.Diameter)
	limit := overlapDistance
	if _, sq := r.plated.Nearest(pos); sq < limit*limit {
		return Resolution{Decision: DecisionRejected}
	}
	return Resolution{Decision: DecisionStick, Position: pos}
}

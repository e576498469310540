package core

import (
	"fmt"

	"github.com/signalsfoundry/platesim/model"
)

// ParticleState is the lifecycle tag of a diffusing particle.
type ParticleState int

const (
	Walking ParticleState = iota
	Stuck
	Escaped
	Stalled
)

func (s ParticleState) String() string {
	switch s {
	case Walking:
		return "walking"
	case Stuck:
		return "stuck"
	case Escaped:
		return "escaped"
	case Stalled:
		return "stalled"
	default:
		return fmt.Sprintf("ParticleState(%d)", int(s))
	}
}

// Particle is a single diffusing walker and its per-walk counters.
type Particle struct {
	Position     model.Position
	State        ParticleState
	LaunchRadius float64
	EscapeRadius float64

	Steps     int
	FarJumps  int
	NearSteps int
	Contacts  int
	Bounces   int
	Rejected  int
}

// ParticleWalker moves particles through the two-zone walk.
type ParticleWalker struct {
	dims         int
	cellSq       float64
	sigma        float64
	cutoff       float64
	margin       float64
	escapeFactor float64
	maxSteps     int

	sampler  *Sampler
	plated   NeighbourFinder
	resolver *CollisionResolver
}

// NewParticleWalker builds a walker for validated params.
func NewParticleWalker(params model.Parameters, sampler *Sampler, plated NeighbourFinder, resolver *CollisionResolver) *ParticleWalker {
	cell := params.CellLength()
	return &ParticleWalker{
		dims:         params.Dims,
		cellSq:       cell * cell,
		sigma:        params.StepSigma(),
		cutoff:       params.JumpCutoff,
		margin:       params.LaunchMargin(),
		escapeFactor: params.EscapeFactor,
		maxSteps:     params.MaxStepsPerParticle,
		sampler:      sampler,
		plated:       plated,
		resolver:     resolver,
	}
}

// Spawn releases a particle uniformly on the launch sphere around a cluster of
// the given radius.
func (w *ParticleWalker) Spawn(clusterRadius float64) *Particle {
	launch := clusterRadius + w.margin
	return &Particle{
		Position:     w.sampler.PointOnSphere(w.dims, launch),
		State:        Walking,
		LaunchRadius: launch,
		EscapeRadius: w.escapeFactor * launch,
	}
}

// Step advances p by one move. Only a non-finite coordinate is an error.
func (w *ParticleWalker) Step(p *Particle) error {
	if p.State != Walking {
		return nil
	}
	p.Steps++

	_, sq := w.plated.Nearest(p.Position)
	if sq > w.cellSq {
		next := FarJump(p.Position, w.sampler.UnitVector(w.dims), sq)
		if err := model.CheckFinite("particle position", next); err != nil {
			return err
		}
		p.Position = next
		p.FarJumps++
	} else if err := w.nearStep(p); err != nil {
		return err
	}

	if p.State == Walking && p.Position.Norm() > p.EscapeRadius {
		p.State = Escaped
	}
	return nil
}

func (w *ParticleWalker) nearStep(p *Particle) error {
	next := make(model.Position, w.dims)
	for i, v := range p.Position {
		next[i] = v + w.sampler.TruncatedNormal(w.sigma, w.cutoff)
	}
	if err := model.CheckFinite("particle position", next); err != nil {
		return err
	}
	p.NearSteps++

	plated, sq := w.plated.Nearest(next)
	if !InContact(sq) {
		p.Position = next
		return nil
	}

	p.Contacts++
	res := w.resolver.Evaluate(Contact{Position: next, Plated: plated, SquaredDistance: sq})
	switch res.Decision {
	case DecisionStick:
		p.Position = res.Position
		p.State = Stuck
	case DecisionBounce:
		p.Position = res.Position
		p.Bounces++
	case DecisionRejected:
		p.Rejected++
	}
	return nil
}

// Walk steps p until it is stuck, escaped, or out of step budget, in which
// case it is tagged Stalled.
func (w *ParticleWalker) Walk(p *Particle) error {
	for p.State == Walking {
		if p.Steps >= w.maxSteps {
			p.State = Stalled
			return nil
		}
		if err := w.Step(p); err != nil {
			return err
		}
	}
	return nil
}

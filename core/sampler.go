package core

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/signalsfoundry/platesim/model"
)

// pcgStream is the fixed PCG increment; the seed picks the starting state.
const pcgStream = 0x9e3779b97f4a7c15

// Sampler is the single random source of a run. Every draw in the physics
// loop goes through it so that a seed, or a restored state, reproduces the
// run exactly.
type Sampler struct {
	src     *rand.PCG
	normal  distuv.Normal
	uniform distuv.Uniform
}

// NewSampler returns a sampler seeded deterministically from seed.
func NewSampler(seed int64) *Sampler {
	src := rand.NewPCG(uint64(seed), pcgStream)
	return &Sampler{
		src:     src,
		normal:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		uniform: distuv.Uniform{Min: 0, Max: 1, Src: src},
	}
}

// Uniform01 draws from [0, 1).
func (s *Sampler) Uniform01() float64 {
	return s.uniform.Rand()
}

// UnitNormal draws from N(0, 1).
func (s *Sampler) UnitNormal() float64 {
	return s.normal.Rand()
}

// TruncatedNormal draws from N(0, sigma²) restricted to |x| ≤ cutoff*sigma by
// rejection. cutoff must be positive.
func (s *Sampler) TruncatedNormal(sigma, cutoff float64) float64 {
	for {
		z := s.normal.Rand()
		if math.Abs(z) <= cutoff {
			return z * sigma
		}
	}
}

// UnitVector returns a direction drawn uniformly from the (dims-1)-sphere.
func (s *Sampler) UnitVector(dims int) model.Position {
	v := make(model.Position, dims)
	for {
		for i := range v {
			v[i] = s.normal.Rand()
		}
		if u, n := v.Unit(); n > 0 {
			return u
		}
	}
}

// PointOnSphere returns a point drawn uniformly from the sphere of the given
// radius centred on the origin.
func (s *Sampler) PointOnSphere(dims int, radius float64) model.Position {
	return model.Origin(dims).AddScaled(radius, s.UnitVector(dims))
}

// MarshalState returns the opaque generator state.
func (s *Sampler) MarshalState() ([]byte, error) {
	return s.src.MarshalBinary()
}

// UnmarshalState restores a state produced by MarshalState.
func (s *Sampler) UnmarshalState(state []byte) error {
	if err := s.src.UnmarshalBinary(state); err != nil {
		return fmt.Errorf("restore sampler state: %w", err)
	}
	return nil
}

package model

import (
	"fmt"
	"math"
	"strings"
)

// StallPolicy decides what happens to a particle that exhausts its step budget.
type StallPolicy int

const (
	// StallAbort aborts the whole run with a stall error.
	StallAbort StallPolicy = iota
	// StallRespawn discards the particle as if it had escaped.
	StallRespawn
)

func (s StallPolicy) String() string {
	switch s {
	case StallRespawn:
		return "respawn"
	default:
		return "abort"
	}
}

// ParseStallPolicy maps a textual policy onto a StallPolicy.
func ParseStallPolicy(v string) (StallPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "abort":
		return StallAbort, nil
	case "respawn":
		return StallRespawn, nil
	default:
		return StallAbort, fmt.Errorf("unknown stall policy %q", v)
	}
}

// Defaults for the optional run parameters.
const (
	DefaultEscapeFactor           = 3.0
	DefaultMaxStepsPerParticle    = 1_000_000
	DefaultMaxLaunchesPerParticle = 100_000
)

// Parameters is the immutable configuration of a single aggregation run.
//
// All lengths are in reduced units: particle radius = 1, diffusion
// constant = 1, so time is measured in a^2/D.
type Parameters struct {
	Dims               int
	WriteFrameInterval int
	ClusterSize        int
	MaxLeafSize        int
	Seed               int64

	// RMSJumpSize is the expected length of one near-zone displacement.
	RMSJumpSize float64
	// FractionMaxKappa is the sticking probability expressed as a fraction
	// of the largest feasible kappa; numerically it equals p.
	FractionMaxKappa float64
	// JumpCutoff bounds each near-zone coordinate increment, in units of the
	// untruncated standard deviation.
	JumpCutoff float64

	RestartPath string

	EscapeFactor           float64
	MaxStepsPerParticle    int
	MaxLaunchesPerParticle int
	StallPolicy            StallPolicy
}

// DT is the near-zone timestep: rms_jump_size = sqrt(2*D*dt).
func (p Parameters) DT() float64 {
	return p.RMSJumpSize * p.RMSJumpSize / float64(2*p.Dims)
}

// StickingProbability is p, the chance of sticking at each contact.
//
// p_max = kappa_max*sqrt(dt) = 1, so p = fraction_max_kappa*kappa_max*sqrt(dt)
// collapses to fraction_max_kappa.
func (p Parameters) StickingProbability() float64 {
	return p.FractionMaxKappa
}

// Kappa is the surface reaction rate implied by p and dt.
func (p Parameters) Kappa() float64 {
	return p.StickingProbability() / math.Sqrt(p.DT())
}

// StepSigma is the standard deviation of each untruncated near-zone coordinate
// increment.
func (p Parameters) StepSigma() float64 {
	return math.Sqrt(2 * p.DT())
}

// StepBound is the largest magnitude of a single coordinate increment.
func (p Parameters) StepBound() float64 {
	return p.JumpCutoff * p.StepSigma()
}

// MaxJumpLength is the longest possible near-zone displacement vector.
func (p Parameters) MaxJumpLength() float64 {
	return math.Sqrt(2*float64(p.Dims)*p.DT()) * p.JumpCutoff
}

// CellLength is the near/far zone threshold. It is larger than any near-zone
// jump plus one diameter, so a bounded step can never skip a collision.
func (p Parameters) CellLength() float64 {
	return p.MaxJumpLength() + Diameter + SpatialEpsilon
}

// LaunchMargin is how far outside the cluster radius particles are released.
func (p Parameters) LaunchMargin() float64 {
	return 2 * p.CellLength()
}

// WithDefaults fills unset optional fields.
func (p Parameters) WithDefaults() Parameters {
	if p.EscapeFactor == 0 {
		p.EscapeFactor = DefaultEscapeFactor
	}
	if p.MaxStepsPerParticle == 0 {
		p.MaxStepsPerParticle = DefaultMaxStepsPerParticle
	}
	if p.MaxLaunchesPerParticle == 0 {
		p.MaxLaunchesPerParticle = DefaultMaxLaunchesPerParticle
	}
	return p
}

// Validate checks the parameter set and its derived invariants.
func (p Parameters) Validate() error {
	if p.Dims != 2 && p.Dims != 3 {
		return &InvariantViolation{Name: "dims", Value: fmt.Sprint(p.Dims), Reason: "must be 2 or 3"}
	}
	positive := []struct {
		name string
		v    int
	}{
		{"write_frame_interval", p.WriteFrameInterval},
		{"cluster_size", p.ClusterSize},
		{"max_leaf_size", p.MaxLeafSize},
		{"max_steps_per_particle", p.MaxStepsPerParticle},
		{"max_launches_per_particle", p.MaxLaunchesPerParticle},
	}
	for _, f := range positive {
		if f.v <= 0 {
			return &InvariantViolation{Name: f.name, Value: fmt.Sprint(f.v), Reason: "must be positive"}
		}
	}
	if !(p.RMSJumpSize > 0) || math.IsInf(p.RMSJumpSize, 0) {
		return &InvariantViolation{Name: "rms_jump_size", Value: fmt.Sprint(p.RMSJumpSize), Reason: "must be positive and finite"}
	}
	if !(p.JumpCutoff > 0) || math.IsInf(p.JumpCutoff, 0) {
		return &InvariantViolation{Name: "jump_cutoff", Value: fmt.Sprint(p.JumpCutoff), Reason: "must be positive and finite"}
	}
	if prob := p.StickingProbability(); !(prob >= 0 && prob <= 1) {
		return &InvariantViolation{Name: "fraction_max_kappa", Value: fmt.Sprint(prob), Reason: "sticking probability must lie in [0, 1]"}
	}
	if !(p.EscapeFactor > 1) {
		return &InvariantViolation{Name: "escape_factor", Value: fmt.Sprint(p.EscapeFactor), Reason: "must be greater than 1"}
	}
	cell := p.CellLength()
	if math.IsNaN(cell) || math.IsInf(cell, 0) || cell <= Diameter {
		return &InvariantViolation{Name: "cell_length", Value: fmt.Sprint(cell), Reason: "must exceed the particle diameter"}
	}
	if cell <= p.MaxJumpLength()+Diameter {
		return &InvariantViolation{Name: "cell_length", Value: fmt.Sprint(cell), Reason: "must exceed max jump length plus one diameter"}
	}
	return nil
}

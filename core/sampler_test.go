package core

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestTruncatedNormalBoundsAndVariance(t *testing.T) {
	const (
		n      = 100_000
		sigma  = 0.5
		cutoff = 1.5
	)
	s := NewSampler(7)
	samples := make([]float64, n)
	bound := cutoff * sigma
	for i := range samples {
		x := s.TruncatedNormal(sigma, cutoff)
		if math.Abs(x) > bound {
			t.Fatalf("sample %d = %v exceeds bound %v", i, x, bound)
		}
		samples[i] = x
	}

	// Variance of a normal truncated symmetrically at ±c standard deviations.
	phi := distuv.UnitNormal.Prob(cutoff)
	mass := 2*distuv.UnitNormal.CDF(cutoff) - 1
	want := sigma * sigma * (1 - 2*cutoff*phi/mass)

	mean, variance := stat.MeanVariance(samples, nil)
	if math.Abs(mean) > 0.01 {
		t.Fatalf("mean = %v, want ~0", mean)
	}
	if rel := math.Abs(variance-want) / want; rel > 0.02 {
		t.Fatalf("variance = %v, want %v (rel err %v)", variance, want, rel)
	}
}

func TestUnitVectorAndSphere(t *testing.T) {
	s := NewSampler(1)
	for _, dims := range []int{2, 3} {
		sum := make([]float64, dims)
		const n = 20_000
		for i := 0; i < n; i++ {
			u := s.UnitVector(dims)
			if got := u.Norm(); math.Abs(got-1) > 1e-12 {
				t.Fatalf("dims=%d: |u| = %v", dims, got)
			}
			for j, v := range u {
				sum[j] += v
			}
		}
		for j, v := range sum {
			if math.Abs(v/n) > 0.03 {
				t.Fatalf("dims=%d: mean component %d = %v, want ~0", dims, j, v/n)
			}
		}

		p := s.PointOnSphere(dims, 12.5)
		if got := p.Norm(); math.Abs(got-12.5) > 1e-9 {
			t.Fatalf("dims=%d: |p| = %v, want 12.5", dims, got)
		}
	}
}

func TestUniform01Range(t *testing.T) {
	s := NewSampler(3)
	for i := 0; i < 10_000; i++ {
		if r := s.Uniform01(); r < 0 || r >= 1 {
			t.Fatalf("Uniform01 = %v outside [0, 1)", r)
		}
	}
}

func TestSamplerStateRestoresSequence(t *testing.T) {
	a := NewSampler(99)
	for i := 0; i < 17; i++ {
		a.UnitNormal()
	}
	state, err := a.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}

	b := NewSampler(0)
	if err := b.UnmarshalState(state); err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}
	for i := 0; i < 10; i++ {
		if x, y := a.TruncatedNormal(1, 2), b.TruncatedNormal(1, 2); x != y {
			t.Fatalf("draw %d diverged: %v vs %v", i, x, y)
		}
	}

	if err := b.UnmarshalState([]byte("junk")); err == nil {
		t.Fatal("expected error for corrupt state")
	}
}

func TestSameSeedSameDraws(t *testing.T) {
	a, b := NewSampler(5), NewSampler(5)
	for i := 0; i < 100; i++ {
		if x, y := a.Uniform01(), b.Uniform01(); x != y {
			t.Fatalf("draw %d diverged: %v vs %v", i, x, y)
		}
	}
}

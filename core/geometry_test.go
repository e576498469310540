package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/model"
)

func TestFarJumpExactness(t *testing.T) {
	idx := spatial.NewLinear()
	idx.Insert(model.Origin(2))

	pos := model.Position{10, 0}
	_, sq := idx.Nearest(pos)
	if sq != 100 {
		t.Fatalf("sq = %v, want 100", sq)
	}
	if got := FarJumpLength(sq); math.Abs(got-7.999) > 1e-12 {
		t.Fatalf("FarJumpLength(100) = %v, want 7.999", got)
	}

	next := FarJump(pos, model.Position{-1, 0}, sq)
	_, d := idx.Nearest(next)
	if got := math.Sqrt(d); math.Abs(got-2.001) > 1e-12 {
		t.Fatalf("distance after head-on jump = %v, want 2.001", got)
	}

	s := NewSampler(11)
	for i := 0; i < 1000; i++ {
		next := FarJump(pos, s.UnitVector(2), sq)
		if _, d := idx.Nearest(next); math.Sqrt(d) < 2.001-1e-12 {
			t.Fatalf("jump %d landed %v from the cluster", i, math.Sqrt(d))
		}
	}
}

func TestInContact(t *testing.T) {
	cases := []struct {
		dist float64
		want bool
	}{
		{0, true},
		{2, true},
		{2.001, true},
		{2.0011, false},
		{5, false},
	}
	for _, tc := range cases {
		if got := InContact(tc.dist * tc.dist); got != tc.want {
			t.Fatalf("InContact(%v²) = %v, want %v", tc.dist, got, tc.want)
		}
	}
}

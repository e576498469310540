package cluster

import (
	"math"
	"sync"
	"testing"

	"github.com/signalsfoundry/platesim/model"
)

func TestAddTracksExactRadius(t *testing.T) {
	s := New(2)
	points := []model.Position{{0, 0}, {2, 0}, {1, 1}, {-3, 4}, {0.5, 0.5}, {0, -5}}

	maxNorm := 0.0
	for i, p := range points {
		if err := s.Add(p); err != nil {
			t.Fatalf("Add(%v): %v", p, err)
		}
		maxNorm = math.Max(maxNorm, p.Norm())
		if got := s.Radius(); got != maxNorm {
			t.Fatalf("after %d adds Radius() = %v, want %v", i+1, got, maxNorm)
		}
		if got := s.Size(); got != i+1 {
			t.Fatalf("Size() = %d, want %d", got, i+1)
		}
	}
}

func TestAddCopiesPoint(t *testing.T) {
	s := New(2)
	p := model.Position{1, 2}
	if err := s.Add(p); err != nil {
		t.Fatalf("Add: %v", err)
	}
	p[0] = 100
	if got := s.Point(0); got[0] != 1 {
		t.Fatalf("stored point changed with caller's slice: %v", got)
	}
}

func TestAddRejectsBadPoints(t *testing.T) {
	s := New(3)
	if err := s.Add(model.Position{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
	if err := s.Add(model.Position{1, math.NaN(), 0}); err == nil {
		t.Fatalf("expected non-finite error")
	}
	if s.Size() != 0 {
		t.Fatalf("rejected points were stored")
	}
}

func TestSubscribeReceivesPlatedEvents(t *testing.T) {
	s := New(2)
	var mu sync.Mutex
	var events []Event
	unsubscribe := s.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})

	_ = s.Add(model.Position{0, 0})
	_ = s.Add(model.Position{2, 0})
	unsubscribe()
	_ = s.Add(model.Position{4, 0})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[1].Index != 1 || events[1].Radius != 2 || events[1].Type != EventPointPlated {
		t.Fatalf("unexpected event %+v", events[1])
	}
}

// Package cluster records the plated particles of a growing aggregate in the
// order they joined it.
package cluster

import (
	"fmt"
	"sync"

	"github.com/signalsfoundry/platesim/model"
)

// EventType indicates what kind of change happened to the cluster.
type EventType int

const (
	EventPointPlated EventType = iota
)

// Event is emitted to subscribers after the cluster changes.
type Event struct {
	Type   EventType
	Index  int
	Point  model.Position
	Radius float64
}

// State is an insertion-ordered, thread-safe record of plated points and the
// running cluster radius. The radius is maintained eagerly and always equals
// the maximum norm over all points.
type State struct {
	mu sync.RWMutex

	dims   int
	points []model.Position
	radius float64

	subs []func(Event)
}

// New constructs an empty cluster for the given dimensionality.
func New(dims int) *State {
	return &State{dims: dims}
}

// Dims returns the dimensionality of every point in the cluster.
func (s *State) Dims() int { return s.dims }

// Add appends a plated point and updates the radius. The point is copied so
// later mutation by the caller cannot change the cluster.
func (s *State) Add(p model.Position) error {
	if len(p) != s.dims {
		return fmt.Errorf("point %v has %d coordinates, cluster has %d", p, len(p), s.dims)
	}
	if err := model.CheckFinite("plated point", p); err != nil {
		return err
	}
	point := p.Clone()
	norm := point.Norm()

	s.mu.Lock()
	s.points = append(s.points, point)
	if norm > s.radius {
		s.radius = norm
	}
	event := Event{
		Type:   EventPointPlated,
		Index:  len(s.points) - 1,
		Point:  point,
		Radius: s.radius,
	}
	subs := append([]func(Event){}, s.subs...)
	s.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Size returns the number of plated points.
func (s *State) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Radius returns the distance from the origin to the furthest plated point.
func (s *State) Radius() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radius
}

// Point returns the i-th plated point. Callers must treat it as read-only.
func (s *State) Point(i int) model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.points[i]
}

// Points returns a snapshot slice of the plated points in insertion order.
// The slice is fresh; the positions are shared and must not be modified.
func (s *State) Points() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Position(nil), s.points...)
}

// Subscribe registers a callback for cluster events. It returns an unsubscribe function.
func (s *State) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
	idx := len(s.subs) - 1

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < 0 || idx >= len(s.subs) {
			return
		}
		s.subs = append(s.subs[:idx], s.subs[idx+1:]...)
		idx = -1
	}
}

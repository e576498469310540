// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/platesim/cluster"
	"github.com/signalsfoundry/platesim/internal/logging"
	"github.com/signalsfoundry/platesim/internal/spatial"
	"github.com/signalsfoundry/platesim/model"
)

var (
	// ErrOutOfSync indicates the cluster and the spatial index disagree on
	// their point sets.
	ErrOutOfSync = errors.New("cluster and spatial index are out of sync")
	// ErrDimsMismatch indicates a point or restart cluster has the wrong
	// dimensionality.
	ErrDimsMismatch = errors.New("dimension mismatch")
)

// AggregateState couples the ordered cluster record with its nearest-neighbour
// index. Every insert goes to both under one lock, so no point ever exists in
// one without the other and readers never observe a half-applied commit.
type AggregateState struct {
	// mu is the coarse aggregate-level lock. Take this before touching either
	// the cluster or the index.
	mu sync.RWMutex

	cluster *cluster.State
	index   spatial.Index

	// log is an optional structured logger for state-level events.
	log logging.Logger

	// metrics is an optional recorder for Prometheus-friendly gauges.
	metrics ClusterMetricsRecorder
}

// Snapshot captures a consistent view of the aggregate. Points are shared with
// the cluster and must be treated as read-only.
type Snapshot struct {
	Dims   int
	Points []model.Position
	Radius float64
}

// Size returns the number of points in the snapshot.
func (s *Snapshot) Size() int { return len(s.Points) }

// ClusterMetricsRecorder receives size and radius updates after each commit.
type ClusterMetricsRecorder interface {
	SetClusterStats(size int, radius float64)
}

// Option customises AggregateState construction.
type Option func(*AggregateState)

// WithMetricsRecorder attaches an optional metrics recorder for cluster gauges.
func WithMetricsRecorder(m ClusterMetricsRecorder) Option {
	return func(s *AggregateState) {
		s.metrics = m
	}
}

// NewAggregateState wires a cluster record and an index together. Both must
// be empty, or hold the same number of points, or construction fails.
func NewAggregateState(c *cluster.State, idx spatial.Index, log logging.Logger, opts ...Option) (*AggregateState, error) {
	if c == nil || idx == nil {
		return nil, errors.New("cluster and index are required")
	}
	if c.Size() != idx.Len() {
		return nil, fmt.Errorf("%w: cluster has %d points, index has %d", ErrOutOfSync, c.Size(), idx.Len())
	}
	if log == nil {
		log = logging.Noop()
	}
	s := &AggregateState{
		cluster: c,
		index:   idx,
		log:     log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.updateMetricsLocked()
	return s, nil
}

// Dims returns the dimensionality of the aggregate.
func (s *AggregateState) Dims() int { return s.cluster.Dims() }

// Commit plates p: it is appended to the cluster and inserted into the index
// as one step.
func (s *AggregateState) Commit(ctx context.Context, p model.Position) error {
	if len(p) != s.cluster.Dims() {
		return fmt.Errorf("%w: point %v in a %d-dimensional aggregate", ErrDimsMismatch, p, s.cluster.Dims())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cluster.Add(p); err != nil {
		return err
	}
	s.index.Insert(p)

	s.log.Debug(ctx, "plated particle",
		logging.Int("size", s.cluster.Size()),
		logging.String("position", p.String()),
	)
	s.updateMetricsLocked()
	return nil
}

// Restore commits a previously recorded, ordered point sequence. It is used
// for the initial origin seed and for restarts.
func (s *AggregateState) Restore(ctx context.Context, points []model.Position) error {
	for i, p := range points {
		if err := s.Commit(ctx, p); err != nil {
			return fmt.Errorf("restore point %d: %w", i, err)
		}
	}
	return nil
}

// Nearest returns the closest plated point to q and the squared distance.
func (s *AggregateState) Nearest(q model.Position) (model.Position, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Nearest(q)
}

// Size returns the number of plated points.
func (s *AggregateState) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cluster.Size()
}

// Radius returns the current cluster radius.
func (s *AggregateState) Radius() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cluster.Radius()
}

// Snapshot returns a coherent view of the plated points and radius.
func (s *AggregateState) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		Dims:   s.cluster.Dims(),
		Points: s.cluster.Points(),
		Radius: s.cluster.Radius(),
	}
}

// WithReadLock executes fn while holding the aggregate read lock.
// Callers must not invoke other AggregateState methods that also take the
// lock from inside fn to avoid self-deadlock.
func (s *AggregateState) WithReadLock(fn func(c *cluster.State, idx spatial.Index) error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.cluster, s.index)
}

// CheckSync verifies that the cluster and index hold the same number of
// points.
func (s *AggregateState) CheckSync() error {
	return s.WithReadLock(func(c *cluster.State, idx spatial.Index) error {
		if c.Size() != idx.Len() {
			return fmt.Errorf("%w: cluster has %d points, index has %d", ErrOutOfSync, c.Size(), idx.Len())
		}
		return nil
	})
}

func (s *AggregateState) updateMetricsLocked() {
	if s == nil || s.metrics == nil {
		return
	}
	s.metrics.SetClusterStats(s.cluster.Size(), s.cluster.Radius())
}

// Package pipeline moves work off the physics loop onto a background
// goroutine without ever blocking the producer.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/platesim/internal/logging"
)

// ErrClosed is returned by Offer after Close.
var ErrClosed = errors.New("queue closed")

// DropRecorder is notified every time an item is dropped.
type DropRecorder interface {
	ObserveDrop(queue string)
}

// Queue is a bounded FIFO drained by a single worker goroutine. Offer never
// blocks: when the buffer is full the item is dropped, logged and counted.
type Queue[T any] struct {
	name    string
	handle  func(context.Context, T) error
	items   chan T
	log     logging.Logger
	drops   DropRecorder
	dropped atomic.Int64
	failed  atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// QueueOption customises a Queue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	log   logging.Logger
	drops DropRecorder
}

// WithLogger sets the logger used for drop and handler failures.
func WithLogger(log logging.Logger) QueueOption {
	return func(c *queueConfig) { c.log = log }
}

// WithDropRecorder attaches a drop metric.
func WithDropRecorder(r DropRecorder) QueueOption {
	return func(c *queueConfig) { c.drops = r }
}

// NewQueue starts a worker that calls handle for every accepted item. The
// worker uses ctx for handler calls; it keeps draining after ctx is done so
// Close can flush what was accepted.
func NewQueue[T any](ctx context.Context, name string, capacity int, handle func(context.Context, T) error, opts ...QueueOption) *Queue[T] {
	cfg := queueConfig{log: logging.Noop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logging.Noop()
	}
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue[T]{
		name:   name,
		handle: handle,
		items:  make(chan T, capacity),
		log:    cfg.log.With(logging.String("queue", name)),
		drops:  cfg.drops,
		done:   make(chan struct{}),
	}
	go q.run(context.WithoutCancel(ctx))
	return q
}

func (q *Queue[T]) run(ctx context.Context) {
	defer close(q.done)
	for item := range q.items {
		if err := q.handle(ctx, item); err != nil {
			q.failed.Add(1)
			q.log.Warn(ctx, "queue handler failed", logging.Err(err))
		}
	}
}

// Offer enqueues item if there is room. It reports whether the item was
// accepted.
func (q *Queue[T]) Offer(ctx context.Context, item T) (bool, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false, ErrClosed
	}
	select {
	case q.items <- item:
		return true, nil
	default:
	}

	q.dropped.Add(1)
	if q.drops != nil {
		q.drops.ObserveDrop(q.name)
	}
	q.log.Warn(ctx, "queue full; dropping item", logging.Int("capacity", cap(q.items)))
	return false, nil
}

// Dropped returns how many items were rejected because the queue was full.
func (q *Queue[T]) Dropped() int64 { return q.dropped.Load() }

// Failed returns how many accepted items the handler failed on.
func (q *Queue[T]) Failed() int64 { return q.failed.Load() }

// Close stops accepting items and waits until every accepted item has been
// handled or ctx is done.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.items)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

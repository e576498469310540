package pipeline

import (
	"context"

	"github.com/signalsfoundry/platesim/model"
)

// FrameWriter matches frames.Writer and core.FrameWriter.
type FrameWriter interface {
	WriteFrame(ctx context.Context, f model.Frame) error
}

// CheckpointWriter matches core.CheckpointWriter.
type CheckpointWriter interface {
	WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// AsyncFrames forwards frames to a writer through a Queue.
type AsyncFrames struct {
	q *Queue[model.Frame]
}

// NewAsyncFrames starts a frame queue of the given capacity in front of w.
func NewAsyncFrames(ctx context.Context, w FrameWriter, capacity int, opts ...QueueOption) *AsyncFrames {
	return &AsyncFrames{q: NewQueue(ctx, "frames", capacity, w.WriteFrame, opts...)}
}

// WriteFrame enqueues f. A full queue drops it without error.
func (a *AsyncFrames) WriteFrame(ctx context.Context, f model.Frame) error {
	_, err := a.q.Offer(ctx, f)
	return err
}

// Close flushes pending frames.
func (a *AsyncFrames) Close(ctx context.Context) error { return a.q.Close(ctx) }

// Dropped returns the number of frames dropped on a full queue.
func (a *AsyncFrames) Dropped() int64 { return a.q.Dropped() }

// AsyncCheckpoints forwards checkpoints to a writer through a Queue.
type AsyncCheckpoints struct {
	q *Queue[model.Checkpoint]
}

// NewAsyncCheckpoints starts a checkpoint queue of the given capacity in
// front of w.
func NewAsyncCheckpoints(ctx context.Context, w CheckpointWriter, capacity int, opts ...QueueOption) *AsyncCheckpoints {
	return &AsyncCheckpoints{q: NewQueue(ctx, "checkpoints", capacity, w.WriteCheckpoint, opts...)}
}

// WriteCheckpoint enqueues cp. A full queue drops it without error.
func (a *AsyncCheckpoints) WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := a.q.Offer(ctx, cp)
	return err
}

// Close flushes pending checkpoints.
func (a *AsyncCheckpoints) Close(ctx context.Context) error { return a.q.Close(ctx) }

// Dropped returns the number of checkpoints dropped on a full queue.
func (a *AsyncCheckpoints) Dropped() int64 { return a.q.Dropped() }

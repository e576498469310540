package model

// Frame is an ordered copy of the plated points emitted every
// write_frame_interval commits.
type Frame struct {
	// Index counts frames from the start of the (possibly restarted) run:
	// Index = Size / write_frame_interval.
	Index  int
	Dims   int
	Radius float64
	Points []Position
}

// Size returns the number of plated points in the frame.
func (f Frame) Size() int { return len(f.Points) }

// Checkpoint is everything needed to resume a run bit-for-bit: the ordered
// plated points, the radius they imply, and the sampler state at the moment
// the last point was committed.
type Checkpoint struct {
	RunID    string
	Dims     int
	Radius   float64
	Points   []Position
	RNGState []byte
	Launched int64
	SimTime  float64
}

// Size returns the number of plated points in the checkpoint.
func (c Checkpoint) Size() int { return len(c.Points) }

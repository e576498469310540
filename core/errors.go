package core

import (
	"errors"
	"fmt"
)

var (
	// ErrStall is the sentinel wrapped by every StallError.
	ErrStall = errors.New("particle stalled")
	// ErrAlreadyRunning is returned when Run is invoked on an engine that is
	// still running.
	ErrAlreadyRunning = errors.New("engine already running")
)

// StallError reports a particle that exhausted its step budget, or a run that
// launched too many consecutive particles without a single stick.
type StallError struct {
	Size     int   // cluster size when the stall was detected
	Steps    int   // steps taken by the offending particle
	Launches int64 // consecutive launches without a stick
	Reason   string
}

func (e *StallError) Error() string {
	return fmt.Sprintf("stall at cluster size %d after %d steps, %d launches: %s",
		e.Size, e.Steps, e.Launches, e.Reason)
}

func (e *StallError) Unwrap() error { return ErrStall }

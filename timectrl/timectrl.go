// Package timectrl drives wall-clock periodic work alongside a running
// aggregation, such as progress reports.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time so tickers can be driven by tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// TimeController fires registered listeners every Tick with the time elapsed
// since Run started.
type TimeController struct {
	mu    sync.RWMutex
	Tick  time.Duration
	clock Clock

	started time.Time
	ticks   int

	listeners []func(elapsed time.Duration)
}

// NewTimeController constructs a controller. A nil clock uses the system
// clock.
func NewTimeController(tick time.Duration, clock Clock) *TimeController {
	if clock == nil {
		clock = systemClock{}
	}
	return &TimeController{Tick: tick, clock: clock}
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn func(elapsed time.Duration)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Ticks returns the number of ticks fired so far.
func (tc *TimeController) Ticks() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.ticks
}

// Elapsed returns the wall time since Run started, or zero before it has.
func (tc *TimeController) Elapsed() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.started.IsZero() {
		return 0
	}
	return tc.clock.Now().Sub(tc.started)
}

// Run fires listeners until ctx is done. It always returns nil so it can sit
// in an errgroup next to the run it reports on.
func (tc *TimeController) Run(ctx context.Context) error {
	if tc.Tick <= 0 {
		<-ctx.Done()
		return nil
	}

	tc.mu.Lock()
	tc.started = tc.clock.Now()
	tc.mu.Unlock()

	ticker := time.NewTicker(tc.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		tc.mu.Lock()
		tc.ticks++
		elapsed := tc.clock.Now().Sub(tc.started)
		listeners := append([]func(time.Duration){}, tc.listeners...)
		tc.mu.Unlock()

		for _, fn := range listeners {
			fn(elapsed)
		}
	}
}

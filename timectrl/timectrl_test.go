package timectrl

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func TestTimeControllerFiresListeners(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
	tc := NewTimeController(time.Millisecond, clock)

	fired := make(chan time.Duration, 16)
	tc.AddListener(func(elapsed time.Duration) {
		select {
		case fired <- elapsed:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tc.Run(ctx) }()

	var last time.Duration
	for i := 0; i < 3; i++ {
		select {
		case elapsed := <-fired:
			if elapsed <= last {
				t.Fatalf("elapsed %v did not advance past %v", elapsed, last)
			}
			last = elapsed
		case <-time.After(5 * time.Second):
			t.Fatal("listener was not called")
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if tc.Ticks() < 3 {
		t.Fatalf("Ticks() = %d, want at least 3", tc.Ticks())
	}
}

func TestTimeControllerZeroTickWaitsForCancel(t *testing.T) {
	tc := NewTimeController(0, nil)
	tc.AddListener(func(time.Duration) { t.Error("listener fired with zero tick") })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tc.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if tc.Elapsed() != 0 {
		t.Fatalf("Elapsed() = %v before start, want 0", tc.Elapsed())
	}
}

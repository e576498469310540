package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type dropCounter struct {
	mu    sync.Mutex
	drops map[string]int
}

func (d *dropCounter) ObserveDrop(queue string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.drops == nil {
		d.drops = map[string]int{}
	}
	d.drops[queue]++
}

func TestQueueDeliversInOrderAndDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []int
	)
	q := NewQueue(context.Background(), "frames", 16, func(_ context.Context, v int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
		return nil
	})

	for i := 0; i < 10; i++ {
		ok, err := q.Offer(context.Background(), i)
		if err != nil || !ok {
			t.Fatalf("Offer(%d) = %v, %v", i, ok, err)
		}
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 10 {
		t.Fatalf("handled %d items, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("item %d = %d, out of order", i, v)
		}
	}
	if _, err := q.Offer(context.Background(), 11); !errors.Is(err, ErrClosed) {
		t.Fatalf("Offer after Close error = %v, want ErrClosed", err)
	}
}

func TestQueueNeverBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	drops := &dropCounter{}
	q := NewQueue(context.Background(), "checkpoints", 2, func(context.Context, int) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, WithDropRecorder(drops))

	if ok, _ := q.Offer(context.Background(), 0); !ok {
		t.Fatal("first offer rejected")
	}
	<-started // worker is now stuck on item 0

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 10; i++ {
			_, _ = q.Offer(context.Background(), i)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Offer blocked on a full queue")
	}

	if q.Dropped() != 8 {
		t.Fatalf("Dropped() = %d, want 8", q.Dropped())
	}
	drops.mu.Lock()
	if drops.drops["checkpoints"] != 8 {
		t.Fatalf("recorded drops = %v", drops.drops)
	}
	drops.mu.Unlock()

	close(release)
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestQueueCountsHandlerFailures(t *testing.T) {
	var calls atomic.Int32
	q := NewQueue(context.Background(), "frames", 4, func(context.Context, string) error {
		calls.Add(1)
		return errors.New("disk full")
	})
	_, _ = q.Offer(context.Background(), "a")
	_, _ = q.Offer(context.Background(), "b")
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if calls.Load() != 2 || q.Failed() != 2 {
		t.Fatalf("calls = %d, failed = %d", calls.Load(), q.Failed())
	}
}

func TestQueueCloseHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	q := NewQueue(context.Background(), "slow", 1, func(context.Context, int) error {
		<-release
		return nil
	})
	_, _ = q.Offer(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close error = %v, want DeadlineExceeded", err)
	}
}

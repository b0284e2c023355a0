package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_ExecutesJobs(t *testing.T) {
	q := NewQueue(testLogger(), 2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var done sync.WaitGroup
	var count atomic.Int64
	for i := 0; i < 5; i++ {
		done.Add(1)
		ok := q.Enqueue(func(ctx context.Context) error {
			defer done.Done()
			count.Add(1)
			return nil
		})
		if !ok {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	done.Wait()

	if got := count.Load(); got != 5 {
		t.Fatalf("expected 5 executions, got %d", got)
	}
	if stats := q.Stats(); stats.Enqueued != 5 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(testLogger(), 1, 1)
	// 不启动 worker：容量 1，第二个任务必然被丢弃

	if !q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatal("first enqueue should succeed")
	}
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatal("second enqueue should be dropped")
	}
	if stats := q.Stats(); stats.Dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", stats.Dropped)
	}
}

func TestQueue_ErrorHandlerAndPanicRecovery(t *testing.T) {
	q := NewQueue(testLogger(), 1, 10)

	var handled atomic.Int64
	q.SetErrorHandler(func(err error) {
		handled.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var done sync.WaitGroup
	done.Add(1)
	q.Enqueue(func(ctx context.Context) error {
		defer done.Done()
		return errors.New("boom")
	})
	// panic 的任务不应打断 worker
	q.Enqueue(func(ctx context.Context) error {
		panic("kaboom")
	})
	done.Add(1)
	q.Enqueue(func(ctx context.Context) error {
		defer done.Done()
		return nil
	})
	done.Wait()

	deadline := time.Now().Add(2 * time.Second)
	for q.Stats().Failed < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 failures, got %d", q.Stats().Failed)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if handled.Load() != 1 {
		t.Fatalf("expected error handler called once, got %d", handled.Load())
	}
}

func TestQueue_ShutdownDrainsAndRejects(t *testing.T) {
	q := NewQueue(testLogger(), 1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var count atomic.Int64
	for i := 0; i < 3; i++ {
		q.Enqueue(func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
	}
	q.Shutdown()

	if got := count.Load(); got != 3 {
		t.Fatalf("expected all jobs drained, got %d", got)
	}
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatal("enqueue after shutdown should be rejected")
	}
}

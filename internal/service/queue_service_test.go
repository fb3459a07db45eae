package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"transcription-service/internal/service"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	q := service.NewMemoryQueue()
	ctx := context.Background()

	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	if got := q.Depth(); got != 3 {
		t.Fatalf("expected depth 3, got %d", got)
	}

	for _, want := range []string{"a", "b", "c"} {
		id, err := q.ClaimBlocking(ctx, time.Second)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if id != want {
			t.Fatalf("expected %s, got %s", want, id)
		}
	}

	if got := q.Depth(); got != 0 {
		t.Fatalf("expected empty queue, got depth %d", got)
	}
}

func TestMemoryQueue_ClaimTimesOutWhenEmpty(t *testing.T) {
	q := service.NewMemoryQueue()

	start := time.Now()
	_, err := q.ClaimBlocking(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, service.ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("claim waited far beyond its timeout")
	}
}

func TestMemoryQueue_ClaimWakesOnEnqueue(t *testing.T) {
	q := service.NewMemoryQueue()

	go func() {
		time.Sleep(50 * time.Millisecond)
		q.Enqueue("late")
	}()

	id, err := q.ClaimBlocking(context.Background(), 3*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if id != "late" {
		t.Fatalf("expected late, got %s", id)
	}
}

func TestMemoryQueue_ClaimHonorsContext(t *testing.T) {
	q := service.NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := q.ClaimBlocking(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

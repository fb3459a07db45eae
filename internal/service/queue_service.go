package service

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrQueueEmpty is returned when ClaimBlocking times out without an item.
var ErrQueueEmpty = errors.New("queue empty")

type Queue interface {
	Enqueue(jobID string)
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Depth() int
}

// memoryQueue is an unbounded in-process FIFO of pending job ids.
// Queue state is process-lifetime only; there is deliberately no
// persistence and no depth limit.
type memoryQueue struct {
	mu    sync.Mutex
	items []string
	wake  chan struct{}
}

func NewMemoryQueue() Queue {
	return &memoryQueue{
		wake: make(chan struct{}, 1),
	}
}

func (q *memoryQueue) Enqueue(jobID string) {
	q.mu.Lock()
	q.items = append(q.items, jobID)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// ClaimBlocking pops the head of the queue, waiting up to timeout in
// bounded slots so a shutdown context is observed promptly.
func (q *memoryQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for {
		if id, ok := q.pop(); ok {
			return id, nil
		}

		remain := time.Until(deadline)
		if remain <= 0 {
			return "", ErrQueueEmpty
		}

		slot := 1 * time.Second
		if remain < slot {
			slot = remain
		}

		timer := time.NewTimer(slot)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *memoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *memoryQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	return id, true
}

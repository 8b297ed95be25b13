// Package queue implements the blocking multi-producer multi-consumer
// queue used for command handoff between the control goroutines.
package queue

import (
	"context"
	"sync"

	"github.com/bardlex/gominer/pkg/errors"
)

// Queue is an unbounded FIFO. A frozen queue rejects pushes while the
// items already queued can still be popped.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	frozen bool
	wake   chan struct{}
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{})}
}

// Push appends v. It fails with ErrQueueFrozen once the queue is frozen.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.frozen {
		return errors.ErrQueueFrozen
	}
	q.items = append(q.items, v)
	q.broadcast()
	return nil
}

// Pop blocks until an item is available, the queue is frozen and drained,
// or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if v, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return v, nil
		}
		if q.frozen {
			q.mu.Unlock()
			var zero T
			return zero, errors.ErrQueueFrozen
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop returns the head item without blocking
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Freeze makes pushes fail and wakes every blocked Pop
func (q *Queue[T]) Freeze() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frozen = true
	q.broadcast()
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// broadcast must be called with mu held
func (q *Queue[T]) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

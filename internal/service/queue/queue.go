// Package queue provides the bounded buffer that decouples audio capture
// from the network send path.
package queue

import (
	"errors"
	"time"
)

// Errors returned by queue operations. Neither is fatal: callers drop or retry.
var (
	ErrQueueFull  = errors.New("queue full")
	ErrQueueEmpty = errors.New("queue empty")
)

// Queue is a fixed-capacity FIFO safe for one producer and one consumer
// (and more, the channel does the locking).
type Queue[T any] struct {
	items chan T
}

// New creates a queue holding at most capacity items. Capacity below 1 is raised to 1.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Put waits up to timeout for space. A zero timeout never blocks.
func (q *Queue[T]) Put(item T, timeout time.Duration) error {
	select {
	case q.items <- item:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrQueueFull
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.items <- item:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Get waits up to timeout for an item. A zero timeout never blocks.
func (q *Queue[T]) Get(timeout time.Duration) (T, error) {
	select {
	case item := <-q.items:
		return item, nil
	default:
	}

	var zero T
	if timeout <= 0 {
		return zero, ErrQueueEmpty
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item := <-q.items:
		return item, nil
	case <-timer.C:
		return zero, ErrQueueEmpty
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the fixed capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

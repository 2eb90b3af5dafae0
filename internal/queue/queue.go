// Package queue provides the FIFO task queue the dispatcher drains.
package queue

import (
	"errors"
	"sync"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue is a thread-safe FIFO queue. It is filled before workers start, so Pop
// never blocks: an empty queue tells a worker to exit.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
}

// New creates a queue pre-filled with items, in order.
func New[T any](items ...T) *Queue[T] {
	q := &Queue[T]{items: make([]T, 0, len(items))}
	q.items = append(q.items, items...)
	return q
}

// Pop removes and returns the oldest item.
func (q *Queue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed {
		return zero, ErrQueueClosed
	}
	if q.head >= len(q.items) {
		return zero, ErrQueueEmpty
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items, q.head = q.items[:0], 0
	}
	return item, nil
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Drain removes and returns every queued item, oldest first. It works on a
// closed queue, so remaining tasks can still be accounted for.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	q.items, q.head = nil, 0
	return out
}

// Close stops further pops.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// Package queue provides the FIFO containers used for agent mailboxes and
// router delivery stages. Push never blocks; TryPop returns false when the
// queue is currently empty.
package queue

import "sync"

type Queue[T any] interface {
	Push(v T) bool
	TryPop() (T, bool)
	Len() int
}

// FIFO is an unbounded queue. Push always succeeds.
type FIFO[T any] struct {
	pending []T
	mu      sync.Mutex
}

func NewFIFO[T any]() *FIFO[T] {
	return &FIFO[T]{}
}

func (q *FIFO[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, v)
	return true
}

func (q *FIFO[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.pending) == 0 {
		return zero, false
	}

	v := q.pending[0]
	q.pending[0] = zero
	q.pending = q.pending[1:]
	return v, true
}

func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Bounded holds at most cap items and drops new arrivals when full.
type Bounded[T any] struct {
	FIFO[T]
	cap     int
	dropped int
}

func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{cap: capacity}
}

func (q *Bounded[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.cap {
		q.dropped++
		return false
	}
	q.pending = append(q.pending, v)
	return true
}

// Dropped returns how many pushes were rejected.
func (q *Bounded[T]) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Drain pops every currently queued item in order.
func Drain[T any](q Queue[T]) []T {
	var out []T
	for {
		v, ok := q.TryPop()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

// Package queue provides a strict FIFO admission queue.
//
// Exactly one operation holds the queue at a time. Waiters are admitted in
// arrival order, which a plain sync.Mutex or buffered channel does not
// guarantee. A waiter whose context ends leaves the line without disturbing
// the order of the others.
package queue

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Queue serializes operations in arrival order.
type Queue struct {
	sem     *semaphore.Weighted
	waiting atomic.Int64
	busy    atomic.Bool
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the caller holds the queue or ctx ends. On success the
// caller must call Release exactly once.
func (q *Queue) Acquire(ctx context.Context) error {
	q.waiting.Add(1)
	err := q.sem.Acquire(ctx, 1)
	q.waiting.Add(-1)
	if err != nil {
		return err
	}
	q.busy.Store(true)
	return nil
}

// Release passes the queue to the next waiter, or marks it idle.
func (q *Queue) Release() {
	q.busy.Store(false)
	q.sem.Release(1)
}

// Do runs fn while holding the queue.
func (q *Queue) Do(ctx context.Context, fn func() error) error {
	if err := q.Acquire(ctx); err != nil {
		return err
	}
	defer q.Release()
	return fn()
}

// Len reports how many operations are waiting, excluding the holder.
func (q *Queue) Len() int {
	return int(q.waiting.Load())
}

// Busy reports whether an operation currently holds the queue.
func (q *Queue) Busy() bool {
	return q.busy.Load()
}

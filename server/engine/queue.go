// bounded fifo of connections between the reactor and the workers
package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

const maxRequests = 10000

// ConnQueue pairs a mutex guarding the list with a counting semaphore
// tracking items available; the producer never blocks, it fails fast
// when full so the reactor sheds load instead of stalling the loop.
type ConnQueue struct {
	mu    sync.Mutex
	items []*Conn
	max   int

	sem *semaphore.Weighted
}

func NewConnQueue(max int) (*ConnQueue, error) {
	sem := semaphore.NewWeighted(int64(max))
	// drain to zero so Dequeue blocks until something is queued
	if err := sem.Acquire(context.Background(), int64(max)); err != nil {
		return nil, err
	}
	return &ConnQueue{max: max, sem: sem}, nil
}

// Enqueue appends c and posts the semaphore; false when the queue is full.
func (q *ConnQueue) Enqueue(c *Conn) bool {
	q.mu.Lock()
	if len(q.items) >= q.max {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, c)
	q.mu.Unlock()

	q.sem.Release(1)
	return true
}

// Dequeue blocks until a connection is available and pops the head.
func (q *ConnQueue) Dequeue() *Conn {
	for {
		if err := q.sem.Acquire(context.Background(), 1); err != nil {
			return nil
		}

		q.mu.Lock()
		if len(q.items) == 0 {
			// spurious, loop back to the semaphore
			q.mu.Unlock()
			continue
		}
		c := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return c
	}
}

func (q *ConnQueue) Len() int {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return n
}

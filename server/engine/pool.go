// fixed worker pool; workers never read or write a socket, they parse and
// assemble responses for the connection they dequeued
package engine

import (
	"sync/atomic"
)

const defaultWorkers = 8

type Pool struct {
	queue   *ConnQueue
	handle  HandleFunc
	workers int
	stop    atomic.Bool
}

func NewPool(queue *ConnQueue, handle HandleFunc, workers int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pool{queue: queue, handle: handle, workers: workers}
}

func (p *Pool) Start() {
	for range p.workers {
		go p.worker()
	}
}

func (p *Pool) worker() {
	for !p.stop.Load() {
		c := p.queue.Dequeue()
		if c == nil {
			// stop sentinel
			return
		}
		p.handle(c)
	}
}

// Stop wakes every worker with a nil sentinel so none stays blocked on
// the semaphore. Best effort: a full queue drops sentinels, process
// exit covers the rest.
func (p *Pool) Stop() {
	p.stop.Store(true)
	for range p.workers {
		p.queue.Enqueue(nil)
	}
}

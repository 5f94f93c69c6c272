package mcts

import (
	"sync"

	"github.com/brensch/cchess/executor/inference"
)

type jobKind uint8

const (
	jobSelect jobKind = iota
	jobBackup
)

// continuation is a suspended simulation: its path, the latch of the chunk
// that launched it and the tree generation it runs in.
type continuation struct {
	path  Path
	latch *latch
	gen   uint64
}

type job struct {
	kind jobKind
	continuation
	// value is the leaf value from the tip mover's perspective.
	value float32
	// pred is set when the backup carries the oracle's answer for the tip.
	pred *inference.Prediction
}

// jobQueue is an unbounded FIFO; push never blocks so oracle replies and
// waiter wake-ups can run on any goroutine.
type jobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []job
	closed bool
}

func newJobQueue() *jobQueue {
	q := &jobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *jobQueue) push(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, j)
	q.cond.Signal()
	return true
}

// pop blocks until a job is available or the queue is closed.
func (q *jobQueue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return job{}, false
	}
	j := q.items[0]
	q.items[0] = job{}
	q.items = q.items[1:]
	return j, true
}

func (q *jobQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

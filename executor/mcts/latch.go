package mcts

import (
	"context"
	"sync"
	"sync/atomic"
)

// latch releases its waiter once count simulations have finished, or
// immediately when aborted.
type latch struct {
	remaining atomic.Int64
	done      chan struct{}
	once      sync.Once
	err       error
}

func newLatch(count int) *latch {
	l := &latch{done: make(chan struct{})}
	l.remaining.Store(int64(count))
	if count <= 0 {
		l.release(nil)
	}
	return l
}

func (l *latch) release(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.done)
	})
}

func (l *latch) countDown() {
	if l.remaining.Add(-1) == 0 {
		l.release(nil)
	}
}

func (l *latch) abort(err error) {
	l.release(err)
}

func (l *latch) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

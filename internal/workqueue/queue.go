// Package workqueue provides a bounded FIFO of pending chunk indices
// shared by the workers, which consume indices via Pop and requeue
// failed ones via PushBack. It is the only structure in the engine that must
// be safe for concurrent producers and consumers; everything else is
// owned exclusively by the Scheduler.
package workqueue

import (
	"context"
	"sync"
)

// Queue is a FIFO of chunk indices backed by a buffered channel, the
// same work-queue idiom the teacher uses inline in its chunked
// downloader (a pre-loaded buffered channel of work items).
type Queue struct {
	items chan int

	closeOnce sync.Once
}

// New creates a Queue with room for up to n pending indices and
// pre-loads it with indices 0..n-1 in order.
func New(n int) *Queue {
	q := &Queue{items: make(chan int, n)}
	for i := 0; i < n; i++ {
		q.items <- i
	}
	return q
}

// Pop blocks until an index is available or the queue is closed and
// drained, in which case ok is false.
func (q *Queue) Pop() (index int, ok bool) {
	index, ok = <-q.items
	return index, ok
}

// PopCtx behaves like Pop but also returns ok=false if ctx is
// cancelled first, letting a consumer retire promptly instead of
// blocking on a queue that still has other consumers.
func (q *Queue) PopCtx(ctx context.Context) (index int, ok bool) {
	select {
	case index, ok = <-q.items:
		return index, ok
	case <-ctx.Done():
		return 0, false
	}
}

// PushBack requeues a chunk index, e.g. after a failed or cancelled
// attempt. It is safe to call concurrently with Pop and with other
// PushBack calls, and is a no-op (silently dropped) after Close.
func (q *Queue) PushBack(index int) {
	defer func() {
		// Closed queue: the job is terminating: dropping the requeue is
		// correct, there are no more workers left to serve it.
		_ = recover()
	}()
	q.items <- index
}

// Close stops the queue; pending Pop calls return ok=false once drained.
// Safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.items)
	})
}

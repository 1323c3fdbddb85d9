// Package queue implements the write-serialization queue protecting the
// shared SQLite store from write contention.
//
// A single background worker drains an unbounded FIFO list one item at
// a time, invokes each operation, and delivers its result to the
// original submitter. Every mutation of the store — agent, task, claim
// audit, and index writes — routes through here; reads never do. The
// serialization guarantee is a contract, not an enforcement: a caller
// that writes to the store directly defeats it.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotRunning is returned by Submit after shutdown has been requested.
var ErrNotRunning = errors.New("queue: not running")

// Op is an opaque unit of work executed against the store. Ops are
// never retried automatically; the error is delivered to the submitter.
type Op func() error

// pollInterval bounds how long the worker sleeps before rechecking the
// shutdown flag when the queue is empty.
const pollInterval = 100 * time.Millisecond

// Stats is a snapshot of queue counters.
type Stats struct {
	Submitted uint64 `json:"submitted"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
	HighWater int    `json:"high_water"`
}

type item struct {
	op   Op
	done chan error
}

// Queue is the single-writer serialization queue.
type Queue struct {
	mu      sync.Mutex
	pending []item
	closed  bool
	drained chan struct{}

	submitted uint64
	succeeded uint64
	failed    uint64
	highWater int
}

// New creates a queue and starts its worker goroutine.
func New() *Queue {
	q := &Queue{drained: make(chan struct{})}
	go q.run()
	return q
}

// Submit enqueues op and returns a channel that receives its result
// exactly once. After shutdown, the channel immediately carries
// ErrNotRunning.
func (q *Queue) Submit(op Op) <-chan error {
	done := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		done <- ErrNotRunning
		return done
	}
	q.pending = append(q.pending, item{op: op, done: done})
	q.submitted++
	if len(q.pending) > q.highWater {
		q.highWater = len(q.pending)
	}
	q.mu.Unlock()

	return done
}

// Do submits op and blocks until it completes or ctx is cancelled.
// Cancellation abandons the wait, not the operation: once enqueued, the
// op still executes in FIFO order.
func (q *Queue) Do(ctx context.Context, op Op) error {
	done := q.Submit(op)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting submissions and blocks until every
// previously enqueued operation has completed.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.drained
		return
	}
	q.closed = true
	q.mu.Unlock()

	<-q.drained
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Submitted: q.submitted,
		Succeeded: q.succeeded,
		Failed:    q.failed,
		Pending:   len(q.pending),
		HighWater: q.highWater,
	}
}

// run is the worker loop: strictly one operation at a time, fair FIFO
// order. It polls so the shutdown flag is observed between items, and
// drains the remaining queue before exiting.
func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				close(q.drained)
				return
			}
			q.mu.Unlock()
			time.Sleep(pollInterval)
			continue
		}
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		err := next.op()

		q.mu.Lock()
		if err != nil {
			q.failed++
		} else {
			q.succeeded++
		}
		q.mu.Unlock()

		next.done <- err
	}
}

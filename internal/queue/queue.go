package queue

import (
	"fmt"
	"sync"
)

// Config tunes the queue. Zero values mean unbounded with no backpressure.
type Config struct {
	// HighWater, when > 0, is the depth at which Enqueue starts blocking
	// the caller to bound memory during write storms.
	HighWater int
	// LowWater is the depth Enqueue waits for before resuming. Defaults
	// to half of HighWater when unset.
	LowWater int
}

// Queue is the FIFO operation queue. Enqueue may be called from any
// goroutine; DequeueBlocking is used only by the index worker. There is
// no persistence across restarts: operations not applied at shutdown are
// lost, and the recovery expectation is a rebuild on next startup.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	drained  *sync.Cond

	ops    []Op
	closed bool

	high int
	low  int
}

// New creates a queue with the given config.
func New(cfg Config) *Queue {
	if cfg.HighWater > 0 && cfg.LowWater <= 0 {
		cfg.LowWater = cfg.HighWater / 2
	}
	q := &Queue{high: cfg.HighWater, low: cfg.LowWater}
	q.notEmpty = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends op to the tail. It returns immediately unless the
// high-water mark is configured and exceeded, in which case it blocks the
// caller until depth falls to the low-water mark. No operation is ever
// dropped due to backpressure. Control operations (shutdown, rebuild
// barrier) bypass backpressure: graceful termination and degraded-mode
// recovery must not stall behind a full queue.
func (q *Queue) Enqueue(op Op) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("operation queue is closed")
	}

	if q.high > 0 && op.Kind != OpShutdown && op.Kind != OpRebuildAll {
		for len(q.ops) >= q.high && !q.closed {
			q.drained.Wait()
		}
		if q.closed {
			return fmt.Errorf("operation queue is closed")
		}
	}

	q.ops = append(q.ops, op)
	q.notEmpty.Signal()
	return nil
}

// DequeueBlocking removes and returns the head operation, suspending the
// caller while the queue is empty. The second return is false once the
// queue is closed and fully drained.
func (q *Queue) DequeueBlocking() (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ops) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	return q.popLocked()
}

// TryDequeue removes the head operation without blocking. Used by the
// worker to batch immediately available operations.
func (q *Queue) TryDequeue() (Op, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return Op{}, false
	}
	return q.popLocked()
}

func (q *Queue) popLocked() (Op, bool) {
	if len(q.ops) == 0 {
		return Op{}, false
	}
	op := q.ops[0]
	q.ops = q.ops[1:]
	if q.low <= 0 || len(q.ops) <= q.low {
		q.drained.Broadcast()
	}
	return op, true
}

// Depth returns the current number of queued operations.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Close rejects further enqueues and wakes all waiters. Already queued
// operations can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.notEmpty.Broadcast()
	q.drained.Broadcast()
}

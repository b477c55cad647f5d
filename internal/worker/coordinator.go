package worker

import (
	"sync"

	"github.com/inkpress/blogsearch/internal/queue"
)

// Coordinator orchestrates full index reconstruction. RequestRebuild
// enqueues a barrier operation and returns a ticket that resolves when
// the rebuild completes. Requests arriving while a barrier is still
// queued (not yet reached by the worker) coalesce onto the same ticket:
// the pending scan will observe at least the store state each such
// caller committed before requesting.
type Coordinator struct {
	queue *queue.Queue

	mu       sync.Mutex
	inflight *queue.RebuildTicket
}

// NewCoordinator creates a rebuild coordinator over the given queue.
func NewCoordinator(q *queue.Queue) *Coordinator {
	return &Coordinator{queue: q}
}

// RequestRebuild enqueues a RebuildAll barrier (or joins one still
// queued) and returns its completion ticket. TryJoin decides under the
// ticket's mutex, so a caller never joins a scan that already began and
// could have missed its latest writes.
func (c *Coordinator) RequestRebuild() (*queue.RebuildTicket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t := c.inflight; t != nil && t.TryJoin() {
		return t, nil
	}

	op := queue.RebuildAll()
	if err := c.queue.Enqueue(op); err != nil {
		return nil, err
	}
	c.inflight = op.Rebuild
	return op.Rebuild, nil
}

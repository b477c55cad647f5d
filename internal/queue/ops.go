// Package queue provides the ordered operation queue between entry
// mutation call sites and the single index worker.
package queue

import (
	"context"
	"sync"
	"time"
)

// OpKind discriminates the operation variants.
type OpKind int

const (
	// OpAdd (re)indexes one document by id, reading current entry state
	// from the authoritative store at apply time.
	OpAdd OpKind = iota
	// OpRemove deletes one document if present; absence is not an error.
	OpRemove
	// OpRebuildAll is the barrier operation: full index reconstruction.
	OpRebuildAll
	// OpShutdown drains and halts the worker.
	OpShutdown
)

// String returns the operation kind name for logging.
func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpRemove:
		return "remove"
	case OpRebuildAll:
		return "rebuild_all"
	case OpShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Op is one queued index mutation.
type Op struct {
	Kind       OpKind
	DocumentID string         // set for OpAdd and OpRemove
	Rebuild    *RebuildTicket // set for OpRebuildAll
}

// Add builds an add operation.
func Add(documentID string) Op {
	return Op{Kind: OpAdd, DocumentID: documentID}
}

// Remove builds a remove operation.
func Remove(documentID string) Op {
	return Op{Kind: OpRemove, DocumentID: documentID}
}

// RebuildAll builds a rebuild barrier operation with a fresh ticket.
func RebuildAll() Op {
	return Op{Kind: OpRebuildAll, Rebuild: NewRebuildTicket()}
}

// Shutdown builds a shutdown operation.
func Shutdown() Op {
	return Op{Kind: OpShutdown}
}

// RebuildTicket resolves when the worker finishes the rebuild the ticket
// was enqueued for. A caller timing out on Wait stops waiting; it does
// not cancel the rebuild itself.
type RebuildTicket struct {
	done chan struct{}

	mu       sync.Mutex
	started  bool
	resolved bool
	err      error
	finished time.Time
}

// NewRebuildTicket creates an unresolved ticket.
func NewRebuildTicket() *RebuildTicket {
	return &RebuildTicket{done: make(chan struct{})}
}

// MarkStarted records that the worker reached this barrier. Rebuild
// requests coalesce onto a queued ticket only while it has not started.
func (t *RebuildTicket) MarkStarted() {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
}

// Started reports whether the worker began executing this rebuild.
func (t *RebuildTicket) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// TryJoin coalesces a new rebuild request onto this ticket. It fails
// once the rebuild has started or resolved: a scan already underway may
// have missed the requester's latest writes, so the requester needs a
// fresh barrier. TryJoin and MarkStarted serialize on the ticket's
// mutex, so a successful join strictly precedes the scan.
func (t *RebuildTicket) TryJoin() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.started && !t.resolved
}

// Resolve records the rebuild outcome and releases all waiters.
// Resolving twice is a programming error and panics on the closed channel.
func (t *RebuildTicket) Resolve(err error) {
	t.mu.Lock()
	t.resolved = true
	t.err = err
	t.finished = time.Now()
	t.mu.Unlock()
	close(t.done)
}

// Done is closed when the rebuild completed (success or failure).
func (t *RebuildTicket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the rebuild completes or ctx expires.
func (t *RebuildTicket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the rebuild outcome. Valid only after Done is closed.
func (t *RebuildTicket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// FinishedAt returns when the rebuild resolved. Valid only after Done.
func (t *RebuildTicket) FinishedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

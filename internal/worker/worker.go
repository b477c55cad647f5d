// Package worker runs the single background consumer that drains the
// operation queue and applies mutations to the index store. It is the
// only writer; total serialization of index mutations is enforced here.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/inkpress/blogsearch/internal/document"
	"github.com/inkpress/blogsearch/internal/entry"
	bserrors "github.com/inkpress/blogsearch/internal/errors"
	"github.com/inkpress/blogsearch/internal/index"
	"github.com/inkpress/blogsearch/internal/queue"
)

// DefaultBatchSize is how many immediately available operations the
// worker coalesces into one index commit.
const DefaultBatchSize = 32

// Config configures the Worker.
type Config struct {
	// Queue is the operation queue the worker drains.
	Queue *queue.Queue

	// Store is the index store. The worker owns its write side.
	Store *index.Store

	// Entries is the authoritative entry store snapshots are read from.
	Entries entry.Store

	// BatchSize caps operations coalesced per commit. Defaults to
	// DefaultBatchSize if zero.
	BatchSize int

	// FetchRetry tunes retries for transient entry fetch failures.
	FetchRetry bserrors.RetryConfig

	// OnDegraded, if set, is invoked once each time the worker enters
	// the degraded state. Called outside the worker's lock.
	OnDegraded func(cause error)
}

// Worker is the single index writer. Start launches the drain loop in a
// background goroutine; a Shutdown operation (or queue close) ends it.
type Worker struct {
	config Config

	doneCh chan struct{}

	mu             sync.Mutex
	running        bool
	degraded       bool
	degradedReason string
	backlog        int
	lastRebuildAt  time.Time
	lastRebuildErr error
	applied        uint64
	skipped        uint64
}

// New creates a worker. Call Start to begin draining.
func New(cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FetchRetry.MaxRetries == 0 && cfg.FetchRetry.InitialDelay == 0 {
		cfg.FetchRetry = bserrors.RetryConfig{
			MaxRetries:   2,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     1 * time.Second,
			Multiplier:   2.0,
		}
	}
	return &Worker{
		config: cfg,
		doneCh: make(chan struct{}),
	}
}

// Start begins draining the queue in a background goroutine. It is
// non-blocking; use Wait to block until the loop exits.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

// Wait blocks until the drain loop has exited.
func (w *Worker) Wait() {
	<-w.doneCh
}

// Shutdown enqueues a shutdown operation and waits for the worker to
// finish any in-progress commit and exit.
func (w *Worker) Shutdown() {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return
	}
	if err := w.config.Queue.Enqueue(queue.Shutdown()); err != nil {
		// Queue already closed; the loop is exiting on its own.
		slog.Debug("shutdown enqueue skipped", slog.String("error", err.Error()))
	}
	w.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	var carried *queue.Op
	for {
		var op queue.Op
		if carried != nil {
			op, carried = *carried, nil
		} else {
			var ok bool
			op, ok = w.config.Queue.DequeueBlocking()
			if !ok {
				slog.Debug("operation queue closed, worker exiting")
				return
			}
		}

		select {
		case <-ctx.Done():
			slog.Info("worker context cancelled, exiting",
				slog.Int("queue_depth", w.config.Queue.Depth()))
			return
		default:
		}

		switch op.Kind {
		case queue.OpShutdown:
			slog.Info("worker shutting down",
				slog.Int("queue_depth", w.config.Queue.Depth()))
			return
		case queue.OpRebuildAll:
			w.runRebuild(ctx, op.Rebuild)
		default:
			batch, next := w.gather(op)
			w.applyBatch(ctx, batch)
			carried = next
		}
	}
}

// gather collects immediately available Add/Remove operations after head,
// up to BatchSize. A barrier or shutdown operation ends the batch and is
// carried to the next loop iteration so queue order is preserved.
func (w *Worker) gather(head queue.Op) ([]queue.Op, *queue.Op) {
	batch := []queue.Op{head}
	for len(batch) < w.config.BatchSize {
		op, ok := w.config.Queue.TryDequeue()
		if !ok {
			break
		}
		if op.Kind == queue.OpRebuildAll || op.Kind == queue.OpShutdown {
			return batch, &op
		}
		batch = append(batch, op)
	}
	return batch, nil
}

// applyBatch resolves the batch to one final operation per document id
// and commits it atomically. An operation's effect depends only on entry
// store state at apply time, so the index end state per id equals the
// effect of the last queued operation for that id; collapsing to it
// preserves last-write-wins while cross-id order is irrelevant inside an
// atomic commit.
func (w *Worker) applyBatch(ctx context.Context, batch []queue.Op) {
	if w.isDegraded() {
		// Storage is unusable: keep draining so enqueues never block
		// forever, but count the operations as pending backlog. A
		// successful rebuild reconciles them.
		w.mu.Lock()
		w.backlog += len(batch)
		w.mu.Unlock()
		slog.Warn("worker degraded, operations deferred to backlog",
			slog.Int("batch", len(batch)),
			slog.Int("backlog", w.backlogSize()))
		return
	}

	type slot struct {
		id   string
		kind queue.OpKind
	}
	var order []string
	final := make(map[string]slot, len(batch))
	for _, op := range batch {
		if _, seen := final[op.DocumentID]; !seen {
			order = append(order, op.DocumentID)
		}
		final[op.DocumentID] = slot{id: op.DocumentID, kind: op.Kind}
	}

	var upserts []*document.IndexDocument
	var deletes []string
	for _, id := range order {
		op := final[id]
		switch op.kind {
		case queue.OpRemove:
			deletes = append(deletes, op.id)
		case queue.OpAdd:
			doc, err := w.resolveAdd(ctx, op.id)
			switch {
			case err == nil && doc != nil:
				upserts = append(upserts, doc)
			case err == nil:
				// Entry gone or not publishable: treat as remove.
				deletes = append(deletes, op.id)
			default:
				// Transient fetch or conversion failure: skip this
				// operation, keep the loop alive. Self-heals on the next
				// mutation of the id or the next rebuild.
				w.mu.Lock()
				w.skipped++
				w.mu.Unlock()
				slog.Warn("skipping index operation",
					slog.String("document_id", op.id),
					slog.String("error", err.Error()))
			}
		}
	}

	if err := w.config.Store.ApplyBatch(upserts, deletes); err != nil {
		w.enterDegraded(err, len(batch))
		return
	}

	w.mu.Lock()
	w.applied += uint64(len(upserts) + len(deletes))
	w.mu.Unlock()
	slog.Debug("index batch committed",
		slog.Int("upserts", len(upserts)),
		slog.Int("deletes", len(deletes)))
}

// resolveAdd fetches current entry state and converts it to a document.
// Returns (nil, nil) when the entry should be removed instead.
func (w *Worker) resolveAdd(ctx context.Context, id string) (*document.IndexDocument, error) {
	snap, err := bserrors.RetryWithResult(ctx, w.config.FetchRetry, func() (*entry.Snapshot, error) {
		s, err := w.config.Entries.GetPublishableEntry(ctx, id)
		if errors.Is(err, entry.ErrNotFound) {
			// Definitive answer, do not retry.
			return nil, nil
		}
		return s, err
	})
	if err != nil {
		return nil, bserrors.Wrap(bserrors.ErrCodeEntryFetchFailed, err)
	}
	if snap == nil {
		return nil, nil
	}

	doc, err := document.FromSnapshot(snap)
	if err != nil {
		return nil, bserrors.Wrap(bserrors.ErrCodeDocumentConvert, err)
	}
	return doc, nil
}

func (w *Worker) enterDegraded(cause error, deferred int) {
	w.mu.Lock()
	wasDegraded := w.degraded
	w.degraded = true
	w.degradedReason = cause.Error()
	w.backlog += deferred
	w.mu.Unlock()

	slog.Error("index storage failure, worker entering degraded state",
		slog.String("error", cause.Error()),
		slog.Int("backlog", deferred))

	if !wasDegraded && w.config.OnDegraded != nil {
		w.config.OnDegraded(cause)
	}
}

func (w *Worker) isDegraded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.degraded
}

func (w *Worker) backlogSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.backlog
}

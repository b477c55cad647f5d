package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/inkpress/blogsearch/internal/document"
	"github.com/inkpress/blogsearch/internal/queue"
)

// runRebuild executes the barrier operation: build a new generation from
// a full scan of the authoritative store, then atomically swap it in.
// A failed rebuild discards the new generation; the served one is
// untouched and the barrier is considered consumed.
func (w *Worker) runRebuild(ctx context.Context, ticket *queue.RebuildTicket) {
	ticket.MarkStarted()
	start := time.Now()
	slog.Info("index rebuild starting",
		slog.Int("queue_depth", w.config.Queue.Depth()))

	err := w.rebuild(ctx)

	w.mu.Lock()
	w.lastRebuildAt = time.Now()
	w.lastRebuildErr = err
	if err == nil {
		// The fresh generation reconciles everything deferred while
		// degraded; trailing queued operations apply against it next.
		w.degraded = false
		w.degradedReason = ""
		w.backlog = 0
	}
	w.mu.Unlock()

	if err != nil {
		slog.Error("index rebuild failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
	} else {
		slog.Info("index rebuild complete",
			slog.Duration("elapsed", time.Since(start)))
	}
	ticket.Resolve(err)
}

func (w *Worker) rebuild(ctx context.Context) error {
	builder, err := w.config.Store.NewGeneration()
	if err != nil {
		return err
	}

	// Own cancel scope so an aborted build stops the stream promptly.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	snapshots, streamErr := w.config.Entries.StreamAllPublishableEntries(streamCtx)

	var skipped int
	for snap := range snapshots {
		doc, convErr := document.FromSnapshot(snap)
		if convErr != nil {
			// Malformed entries are excluded from the index, never fatal.
			skipped++
			slog.Warn("rebuild skipping entry",
				slog.String("entry_id", snap.ID),
				slog.String("error", convErr.Error()))
			continue
		}
		if err := builder.Add(doc); err != nil {
			cancel()
			for range snapshots {
				// Drain so the streaming goroutine can exit.
			}
			builder.Abort()
			return err
		}
	}

	if err := streamErr(); err != nil {
		builder.Abort()
		return err
	}

	if err := builder.Commit(); err != nil {
		return err
	}

	slog.Info("rebuild generation swapped",
		slog.Int("indexed", builder.Count()),
		slog.Int("skipped", skipped))
	return nil
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress/blogsearch/internal/entry"
	"github.com/inkpress/blogsearch/internal/queue"
)

func TestWorker_RebuildAll_IndexesEveryPublishableEntry(t *testing.T) {
	// Given: entries saved directly to the store, never queued individually
	w, q, entries, store := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e1", "One", "alpha")))
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e2", "Two", "beta")))

	draft := publishedEntry("draft", "Unpublished", "hidden")
	draft.Published = false
	require.NoError(t, entries.SaveEntry(ctx, draft))

	w.Start(ctx)

	// When: a full rebuild runs
	op := queue.RebuildAll()
	require.NoError(t, q.Enqueue(op))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, op.Rebuild.Wait(waitCtx))
	require.NoError(t, op.Rebuild.Err())
	drainAndStop(t, w)

	// Then: publishable entries are indexed, drafts are not
	assert.True(t, indexed(t, store, "e1"))
	assert.True(t, indexed(t, store, "e2"))
	assert.False(t, indexed(t, store, "draft"))

	h := w.Health()
	assert.True(t, h.LastRebuildOK)
	assert.False(t, h.LastRebuildAt.IsZero())
}

func TestWorker_RebuildBarrier_OrdersAroundQueuedOps(t *testing.T) {
	// Given: adds before and after a rebuild barrier, all queued up front
	w, q, entries, store := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e1", "One", "alpha")))
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e2", "Two", "beta")))
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e3", "Three", "gamma")))

	require.NoError(t, q.Enqueue(queue.Add("e1")))
	require.NoError(t, q.Enqueue(queue.Add("e2")))
	barrier := queue.RebuildAll()
	require.NoError(t, q.Enqueue(barrier))
	require.NoError(t, q.Enqueue(queue.Add("e3")))

	// When: the worker drains everything
	w.Start(ctx)
	drainAndStop(t, w)

	// Then: the rebuild saw e1 and e2, and e3 was applied after the swap
	require.NoError(t, barrier.Rebuild.Err())
	assert.True(t, indexed(t, store, "e1"))
	assert.True(t, indexed(t, store, "e2"))
	assert.True(t, indexed(t, store, "e3"))
	n, err := store.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestWorker_RebuildSwapsGeneration_OldReadersUnaffected(t *testing.T) {
	// Given: an indexed entry and a reader holding the current generation
	w, q, entries, store := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("old", "Old", "legacy")))

	w.Start(ctx)
	require.NoError(t, q.Enqueue(queue.Add("old")))

	assert.Eventually(t, func() bool {
		return indexed(t, store, "old")
	}, 5*time.Second, 10*time.Millisecond)

	reader := store.Acquire()
	require.NotNil(t, reader)
	oldSeq := reader.Seq()

	// When: the entry disappears and a rebuild replaces the generation
	require.NoError(t, entries.DeleteEntry(ctx, "old"))
	op := queue.RebuildAll()
	require.NoError(t, q.Enqueue(op))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, op.Rebuild.Wait(waitCtx))
	drainAndStop(t, w)

	// Then: the held generation still answers with its old view
	doc, err := reader.Index().Document("old")
	require.NoError(t, err)
	assert.NotNil(t, doc, "held generation should keep serving the old document")
	reader.Release()

	// And: the served generation is a newer, empty one
	current := store.Acquire()
	require.NotNil(t, current)
	defer current.Release()
	assert.Greater(t, current.Seq(), oldSeq)
	n, err := current.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
}

func TestWorker_SuccessfulRebuild_ClearsDegradedState(t *testing.T) {
	// Given: a degraded worker with deferred backlog
	w, q, entries, store := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e1", "One", "alpha")))

	w.mu.Lock()
	w.degraded = true
	w.degradedReason = "disk full"
	w.backlog = 7
	w.mu.Unlock()

	w.Start(ctx)

	// When: a rebuild completes successfully
	op := queue.RebuildAll()
	require.NoError(t, q.Enqueue(op))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, op.Rebuild.Wait(waitCtx))
	require.NoError(t, op.Rebuild.Err())
	drainAndStop(t, w)

	// Then: the rebuild reconciled everything the backlog deferred
	h := w.Health()
	assert.False(t, h.Degraded)
	assert.Empty(t, h.DegradedReason)
	assert.Zero(t, h.Backlog)
	assert.True(t, indexed(t, store, "e1"))
}

func TestWorker_RebuildStreamFailure_KeepsServingOldGeneration(t *testing.T) {
	// Given: an indexed entry and an entry stream that fails mid-rebuild
	w, q, entries, store := newTestPipeline(t)
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("keep", "Keep", "survivor")))

	w.Start(ctx)
	require.NoError(t, q.Enqueue(queue.Add("keep")))
	assert.Eventually(t, func() bool {
		return indexed(t, store, "keep")
	}, 5*time.Second, 10*time.Millisecond)

	failing := &failingStreamStore{MemoryStore: entries}

	w2 := New(Config{Queue: queue.New(queue.Config{}), Store: store, Entries: failing})
	w2.Start(ctx)

	// When: the rebuild fails
	op := queue.RebuildAll()
	require.NoError(t, w2.config.Queue.Enqueue(op))
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.ErrorIs(t, op.Rebuild.Wait(waitCtx), assert.AnError)
	drainAndStop(t, w2)

	// Then: the ticket reports the failure and the old generation survives
	require.Error(t, op.Rebuild.Err())
	assert.True(t, indexed(t, store, "keep"))
	h := w2.Health()
	assert.False(t, h.LastRebuildOK)
	assert.NotEmpty(t, h.LastRebuildErr)
}

// failingStreamStore delivers a stream error after closing the channel.
type failingStreamStore struct {
	*entry.MemoryStore
}

func (f *failingStreamStore) StreamAllPublishableEntries(_ context.Context) (<-chan *entry.Snapshot, func() error) {
	out := make(chan *entry.Snapshot)
	close(out)
	return out, func() error { return assert.AnError }
}

package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpress/blogsearch/internal/entry"
	"github.com/inkpress/blogsearch/internal/queue"
)

func publishedEntry(id string) *entry.Snapshot {
	return &entry.Snapshot{
		ID:          id,
		Title:       "Title " + id,
		Body:        "Body " + id,
		Published:   true,
		PublishedAt: time.Now().Add(-time.Hour),
		UpdatedAt:   time.Now(),
	}
}

func TestPoller_TranslatesChangeLogIntoOperations(t *testing.T) {
	// Given: logged transitions and a running poller
	entries := entry.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e1")))
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("e2")))
	require.NoError(t, entries.DeleteEntry(ctx, "e1"))

	q := queue.New(queue.Config{})
	p := New(Config{Entries: entries, Queue: q, PollInterval: 10 * time.Millisecond})
	p.Start(ctx)
	defer p.Stop()

	// When: the poller drains the log
	assert.Eventually(t, func() bool { return q.Depth() == 3 }, 2*time.Second, 10*time.Millisecond)

	// Then: one operation per transition, in commit order
	op1, _ := q.TryDequeue()
	op2, _ := q.TryDequeue()
	op3, _ := q.TryDequeue()
	assert.Equal(t, queue.OpAdd, op1.Kind)
	assert.Equal(t, "e1", op1.DocumentID)
	assert.Equal(t, queue.OpAdd, op2.Kind)
	assert.Equal(t, "e2", op2.DocumentID)
	assert.Equal(t, queue.OpRemove, op3.Kind)
	assert.Equal(t, "e1", op3.DocumentID)

	assert.Equal(t, int64(3), p.LastSeq())
}

func TestPoller_PicksUpLaterChanges(t *testing.T) {
	// Given: a running poller over an initially quiet store
	entries := entry.NewMemoryStore()
	q := queue.New(queue.Config{})
	p := New(Config{Entries: entries, Queue: q, PollInterval: 10 * time.Millisecond})
	p.Start(context.Background())
	defer p.Stop()

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 0, q.Depth())

	// When: a change lands after startup
	require.NoError(t, entries.SaveEntry(context.Background(), publishedEntry("late")))

	// Then: it is picked up on a later tick
	assert.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 10*time.Millisecond)
	op, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "late", op.DocumentID)
}

func TestPoller_ResumesFromStartSeq(t *testing.T) {
	// Given: transitions already consumed by a previous run
	entries := entry.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("old1")))
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("old2")))
	require.NoError(t, entries.SaveEntry(ctx, publishedEntry("new1")))

	q := queue.New(queue.Config{})
	p := New(Config{Entries: entries, Queue: q, StartSeq: 2, PollInterval: 10 * time.Millisecond})
	p.Start(ctx)
	defer p.Stop()

	// When: the poller drains
	assert.Eventually(t, func() bool { return q.Depth() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Then: only the unconsumed transition is enqueued
	op, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "new1", op.DocumentID)
}

func TestPoller_StopWithoutStartIsSafe(t *testing.T) {
	// Given: a poller that never ran
	p := New(Config{Entries: entry.NewMemoryStore(), Queue: queue.New(queue.Config{})})

	// When/Then: Stop returns without blocking
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a never-started poller")
	}
}

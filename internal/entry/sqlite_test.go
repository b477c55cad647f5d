package entry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSnapshot(id string) *Snapshot {
	return &Snapshot{
		ID:           id,
		SiteHandle:   "engineering",
		CategoryPath: "infra/search",
		Locale:       "en",
		Title:        "Title of " + id,
		Body:         "Body of " + id,
		Comments:     "First!",
		Published:    true,
		PublishedAt:  time.Now().Add(-time.Hour).Truncate(time.Millisecond),
		UpdatedAt:    time.Now().Truncate(time.Millisecond),
	}
}

func TestSQLiteStore_SaveAndGetRoundTrip(t *testing.T) {
	// Given: a saved entry
	s := openTestStore(t)
	ctx := context.Background()
	want := sampleSnapshot("e1")
	require.NoError(t, s.SaveEntry(ctx, want))

	// When: reading it back
	got, err := s.GetPublishableEntry(ctx, "e1")

	// Then: every field survives
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.SiteHandle, got.SiteHandle)
	assert.Equal(t, want.CategoryPath, got.CategoryPath)
	assert.Equal(t, want.Locale, got.Locale)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, want.Comments, got.Comments)
	assert.True(t, got.Published)
	assert.True(t, want.PublishedAt.Equal(got.PublishedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
}

func TestSQLiteStore_GetMissingOrUnpublished_ReturnsNotFound(t *testing.T) {
	// Given: one unpublished and one scheduled entry
	s := openTestStore(t)
	ctx := context.Background()

	draft := sampleSnapshot("draft")
	draft.Published = false
	require.NoError(t, s.SaveEntry(ctx, draft))

	scheduled := sampleSnapshot("scheduled")
	scheduled.PublishedAt = time.Now().Add(24 * time.Hour)
	require.NoError(t, s.SaveEntry(ctx, scheduled))

	// When/Then: none of them is publishable
	for _, id := range []string{"missing", "draft", "scheduled"} {
		_, err := s.GetPublishableEntry(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, "entry %s", id)
	}
}

func TestSQLiteStore_SaveOverwritesPreviousState(t *testing.T) {
	// Given: an entry saved twice with different content
	s := openTestStore(t)
	ctx := context.Background()
	first := sampleSnapshot("e1")
	require.NoError(t, s.SaveEntry(ctx, first))

	second := sampleSnapshot("e1")
	second.Title = "Rewritten"
	require.NoError(t, s.SaveEntry(ctx, second))

	// When: reading it back
	got, err := s.GetPublishableEntry(ctx, "e1")

	// Then: only the latest state is visible
	require.NoError(t, err)
	assert.Equal(t, "Rewritten", got.Title)
}

func TestSQLiteStore_DeleteRemovesEntry(t *testing.T) {
	// Given: a saved entry
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveEntry(ctx, sampleSnapshot("e1")))

	// When: deleting it
	require.NoError(t, s.DeleteEntry(ctx, "e1"))

	// Then: it is gone; deleting again is still fine
	_, err := s.GetPublishableEntry(ctx, "e1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.DeleteEntry(ctx, "e1"))
}

func TestSQLiteStore_ChangeLogRecordsTransitionsInOrder(t *testing.T) {
	// Given: a sequence of mutations
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveEntry(ctx, sampleSnapshot("a")))
	require.NoError(t, s.SaveEntry(ctx, sampleSnapshot("b")))
	require.NoError(t, s.DeleteEntry(ctx, "a"))

	// When: reading the change log from the beginning
	changes, err := s.ChangesSince(ctx, 0, 10)

	// Then: transitions appear in commit order with increasing sequences
	require.NoError(t, err)
	require.Len(t, changes, 3)
	assert.Equal(t, "a", changes[0].EntryID)
	assert.Equal(t, ChangeUpsert, changes[0].Kind)
	assert.Equal(t, "b", changes[1].EntryID)
	assert.Equal(t, ChangeUpsert, changes[1].Kind)
	assert.Equal(t, "a", changes[2].EntryID)
	assert.Equal(t, ChangeRemove, changes[2].Kind)
	assert.Less(t, changes[0].Seq, changes[1].Seq)
	assert.Less(t, changes[1].Seq, changes[2].Seq)
}

func TestSQLiteStore_ChangesSince_ResumesAndLimits(t *testing.T) {
	// Given: five logged transitions
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, s.SaveEntry(ctx, sampleSnapshot(id)))
	}

	// When: consuming in two windows
	first, err := s.ChangesSince(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := s.ChangesSince(ctx, first[2].Seq, 10)
	require.NoError(t, err)

	// Then: the second window picks up exactly where the first ended
	require.Len(t, second, 2)
	assert.Equal(t, "d", second[0].EntryID)
	assert.Equal(t, "e", second[1].EntryID)
}

func TestSQLiteStore_StreamAllPublishableEntries(t *testing.T) {
	// Given: a mix of publishable and hidden entries
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveEntry(ctx, sampleSnapshot("b")))
	require.NoError(t, s.SaveEntry(ctx, sampleSnapshot("a")))

	draft := sampleSnapshot("draft")
	draft.Published = false
	require.NoError(t, s.SaveEntry(ctx, draft))

	// When: streaming everything publishable
	snaps, errFn := s.StreamAllPublishableEntries(ctx)
	var got []string
	for snap := range snaps {
		got = append(got, snap.ID)
	}

	// Then: publishable entries arrive in stable id order
	require.NoError(t, errFn())
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSQLiteStore_StreamHonorsCancellation(t *testing.T) {
	// Given: entries and an already-cancelled context
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveEntry(ctx, sampleSnapshot(id)))
	}
	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	// When: streaming with it
	snaps, errFn := s.StreamAllPublishableEntries(cancelCtx)
	for range snaps {
	}

	// Then: the stream ends with the context error
	assert.Error(t, errFn())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	// Given: a store with data, closed cleanly
	path := filepath.Join(t.TempDir(), "entries.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.SaveEntry(ctx, sampleSnapshot("e1")))
	require.NoError(t, s.Close())

	// When: reopening the same file
	s2, err := OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	// Then: both the entry and the change log are still there
	got, err := s2.GetPublishableEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)

	changes, err := s2.ChangesSince(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

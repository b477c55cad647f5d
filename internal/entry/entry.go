// Package entry defines the authoritative entry store the indexing
// subsystem reads from, plus a SQLite-backed reference implementation.
// The indexer never writes entries; it only reads snapshots and consumes
// the store's change log.
package entry

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an entry does not exist or is not publishable.
var ErrNotFound = errors.New("entry not found")

// Snapshot is a point-in-time copy of one blog entry, read at the moment
// an index operation is applied rather than when it was enqueued.
type Snapshot struct {
	ID           string    `json:"id"`
	SiteHandle   string    `json:"site_handle"`
	CategoryPath string    `json:"category_path"`
	Locale       string    `json:"locale"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Comments     string    `json:"comments,omitempty"`
	PublishedAt  time.Time `json:"published_at"`
	Published    bool      `json:"published"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Publishable reports whether the entry should currently appear in search.
// Entries with no publish time or a future publish time are excluded.
func (s *Snapshot) Publishable(now time.Time) bool {
	if !s.Published {
		return false
	}
	if s.PublishedAt.IsZero() {
		return false
	}
	return !s.PublishedAt.After(now)
}

// ChangeKind describes one committed entry transition.
type ChangeKind string

const (
	// ChangeUpsert covers create, update, and publish transitions.
	ChangeUpsert ChangeKind = "upsert"
	// ChangeRemove covers delete and unpublish transitions.
	ChangeRemove ChangeKind = "remove"
)

// Change is one row of the durable change log. Seq increases monotonically
// in commit order, so a consumer can resume from the last sequence it
// processed after a restart.
type Change struct {
	Seq       int64
	EntryID   string
	Kind      ChangeKind
	Committed time.Time
}

// Store is the read surface the indexing core consumes.
type Store interface {
	// GetPublishableEntry returns the current state of one entry.
	// Returns ErrNotFound if the entry does not exist or is not publishable.
	GetPublishableEntry(ctx context.Context, id string) (*Snapshot, error)

	// StreamAllPublishableEntries streams every publishable entry in
	// stable id order. The returned channel is closed when the stream
	// ends; a stream error, if any, is delivered via errFn after close.
	StreamAllPublishableEntries(ctx context.Context) (<-chan *Snapshot, func() error)

	// ChangesSince returns up to limit change-log rows with Seq > seq,
	// in sequence order.
	ChangesSince(ctx context.Context, seq int64, limit int) ([]Change, error)
}

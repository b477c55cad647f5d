package entry

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore is the SQLite-backed authoritative entry store.
// Every publish/unpublish/delete transition is recorded in the change_log
// table with a monotonically increasing sequence number, so the indexer
// can resume notifications after a restart.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

const entrySchema = `
CREATE TABLE IF NOT EXISTS entries (
	id            TEXT PRIMARY KEY,
	site_handle   TEXT NOT NULL,
	category_path TEXT NOT NULL DEFAULT '',
	locale        TEXT NOT NULL DEFAULT '',
	title         TEXT NOT NULL,
	body          TEXT NOT NULL,
	comments      TEXT NOT NULL DEFAULT '',
	published     INTEGER NOT NULL DEFAULT 0,
	published_at  INTEGER,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS change_log (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id  TEXT NOT NULL,
	kind      TEXT NOT NULL,
	committed INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_site ON entries(site_handle);
`

// OpenSQLite opens (or creates) the entry database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entry db: %w", err)
	}

	// WAL mode must be set via PRAGMA for modernc.org/sqlite.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(entrySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create entry schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// SaveEntry upserts an entry and appends an upsert row to the change log
// in the same transaction.
func (s *SQLiteStore) SaveEntry(ctx context.Context, snap *Snapshot) error {
	return s.logTransition(ctx, snap.ID, ChangeUpsert, func(tx *sql.Tx) error {
		var publishedAt any
		if !snap.PublishedAt.IsZero() {
			publishedAt = snap.PublishedAt.UnixNano()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entries (id, site_handle, category_path, locale, title, body, comments, published, published_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				site_handle = excluded.site_handle,
				category_path = excluded.category_path,
				locale = excluded.locale,
				title = excluded.title,
				body = excluded.body,
				comments = excluded.comments,
				published = excluded.published,
				published_at = excluded.published_at,
				updated_at = excluded.updated_at`,
			snap.ID, snap.SiteHandle, snap.CategoryPath, snap.Locale,
			snap.Title, snap.Body, snap.Comments,
			boolToInt(snap.Published), publishedAt, snap.UpdatedAt.UnixNano())
		return err
	})
}

// DeleteEntry removes an entry and appends a remove row to the change log.
// Deleting a missing entry still records the transition; the indexer
// treats remove-of-absent as a no-op.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id string) error {
	return s.logTransition(ctx, id, ChangeRemove, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
		return err
	})
}

// logTransition runs fn and the change-log append in one transaction.
func (s *SQLiteStore) logTransition(ctx context.Context, id string, kind ChangeKind, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("entry store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO change_log (entry_id, kind, committed) VALUES (?, ?, ?)`,
		id, string(kind), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}

	return tx.Commit()
}

// GetPublishableEntry implements Store.
func (s *SQLiteStore) GetPublishableEntry(ctx context.Context, id string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("entry store is closed")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_handle, category_path, locale, title, body, comments, published, published_at, updated_at
		FROM entries WHERE id = ?`, id)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	if !snap.Publishable(time.Now()) {
		return nil, ErrNotFound
	}
	return snap, nil
}

// StreamAllPublishableEntries implements Store. Entries are streamed in
// ascending id order so rebuild scans are stable across runs.
func (s *SQLiteStore) StreamAllPublishableEntries(ctx context.Context) (<-chan *Snapshot, func() error) {
	out := make(chan *Snapshot, 64)
	var streamErr error
	var done sync.WaitGroup
	done.Add(1)

	go func() {
		defer done.Done()
		defer close(out)

		s.mu.RLock()
		defer s.mu.RUnlock()

		if s.closed {
			streamErr = fmt.Errorf("entry store is closed")
			return
		}

		rows, err := s.db.QueryContext(ctx, `
			SELECT id, site_handle, category_path, locale, title, body, comments, published, published_at, updated_at
			FROM entries
			WHERE published = 1 AND published_at IS NOT NULL AND published_at <= ?
			ORDER BY id`, time.Now().UnixNano())
		if err != nil {
			streamErr = fmt.Errorf("query publishable entries: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			snap, err := scanSnapshot(rows)
			if err != nil {
				streamErr = fmt.Errorf("scan entry: %w", err)
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			}
		}
		streamErr = rows.Err()
	}()

	return out, func() error {
		done.Wait()
		return streamErr
	}
}

// ChangesSince implements Store.
func (s *SQLiteStore) ChangesSince(ctx context.Context, seq int64, limit int) ([]Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("entry store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, entry_id, kind, committed
		FROM change_log WHERE seq > ? ORDER BY seq LIMIT ?`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var committed int64
		if err := rows.Scan(&c.Seq, &c.EntryID, (*string)(&c.Kind), &committed); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Committed = time.Unix(0, committed)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var snap Snapshot
	var published int
	var publishedAt sql.NullInt64
	var updatedAt int64

	err := row.Scan(&snap.ID, &snap.SiteHandle, &snap.CategoryPath, &snap.Locale,
		&snap.Title, &snap.Body, &snap.Comments, &published, &publishedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	snap.Published = published != 0
	if publishedAt.Valid {
		snap.PublishedAt = time.Unix(0, publishedAt.Int64)
	}
	snap.UpdatedAt = time.Unix(0, updatedAt)
	return &snap, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Verify interface implementation
var _ Store = (*SQLiteStore)(nil)

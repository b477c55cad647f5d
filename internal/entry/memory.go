package entry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and examples.
// It mirrors the SQLite store's semantics, including the change log.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Snapshot
	changes []Change
	nextSeq int64

	// FetchErr, when set, is returned by GetPublishableEntry to simulate
	// an unreachable authoritative store.
	FetchErr error
}

// NewMemoryStore creates an empty in-memory entry store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Snapshot),
		nextSeq: 1,
	}
}

// SaveEntry upserts an entry and records an upsert change.
func (m *MemoryStore) SaveEntry(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *snap
	m.entries[snap.ID] = &cp
	m.appendChange(snap.ID, ChangeUpsert)
	return nil
}

// DeleteEntry removes an entry and records a remove change.
func (m *MemoryStore) DeleteEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, id)
	m.appendChange(id, ChangeRemove)
	return nil
}

func (m *MemoryStore) appendChange(id string, kind ChangeKind) {
	m.changes = append(m.changes, Change{
		Seq:       m.nextSeq,
		EntryID:   id,
		Kind:      kind,
		Committed: time.Now(),
	})
	m.nextSeq++
}

// GetPublishableEntry implements Store.
func (m *MemoryStore) GetPublishableEntry(_ context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FetchErr != nil {
		return nil, m.FetchErr
	}

	snap, ok := m.entries[id]
	if !ok || !snap.Publishable(time.Now()) {
		return nil, ErrNotFound
	}
	cp := *snap
	return &cp, nil
}

// StreamAllPublishableEntries implements Store.
func (m *MemoryStore) StreamAllPublishableEntries(ctx context.Context) (<-chan *Snapshot, func() error) {
	m.mu.RLock()
	now := time.Now()
	var snaps []*Snapshot
	for _, snap := range m.entries {
		if snap.Publishable(now) {
			cp := *snap
			snaps = append(snaps, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	out := make(chan *Snapshot)
	var streamErr error
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		for _, snap := range snaps {
			select {
			case out <- snap:
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			}
		}
	}()

	return out, func() error {
		<-done
		return streamErr
	}
}

// ChangesSince implements Store.
func (m *MemoryStore) ChangesSince(_ context.Context, seq int64, limit int) ([]Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Change
	for _, c := range m.changes {
		if c.Seq > seq {
			out = append(out, c)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Verify interface implementation
var _ Store = (*MemoryStore)(nil)

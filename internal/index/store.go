package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/gofrs/flock"

	"github.com/inkpress/blogsearch/internal/document"
)

// writerLockName is the cross-process writer lock file inside the index dir.
const writerLockName = ".writer.lock"

// rebuildBatchSize is how many documents a generation builder buffers
// before flushing a Bleve batch.
const rebuildBatchSize = 200

// Store owns the index generations. Its write side belongs exclusively to
// the index worker; readers only ever see committed generations through
// Acquire. Dir == "" creates in-memory generations (used by tests).
type Store struct {
	dir  string
	lock *flock.Flock

	current atomic.Pointer[Generation]
	genSeq  atomic.Uint64

	// recovered is set when Open cleared a corrupted generation; the
	// contents are gone until the caller rebuilds.
	recovered bool

	mu     sync.Mutex // guards writer-side operations and close
	closed bool
}

// Open opens the store at dir, creating it if needed. An exclusive
// cross-process lock enforces the single-writer contract; a second
// process opening the same directory fails fast instead of corrupting
// the index. A corrupted existing generation is cleared and recreated
// empty; the caller is expected to force a rebuild afterwards.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir}

	if dir == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory index: %w", err)
		}
		s.current.Store(newGeneration(s.genSeq.Add(1), idx, ""))
		return s, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	s.lock = flock.New(filepath.Join(dir, writerLockName))
	held, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	if !held {
		return nil, fmt.Errorf("index at %s is locked by another writer", dir)
	}

	gen, err := s.openNewestGeneration()
	if err != nil {
		_ = s.lock.Unlock()
		return nil, err
	}
	s.current.Store(gen)
	return s, nil
}

// RecoveredFromCorruption reports whether Open had to clear a corrupted
// generation. The index is empty in that case until the next rebuild.
func (s *Store) RecoveredFromCorruption() bool {
	return s.recovered
}

// openNewestGeneration opens the highest-numbered generation directory,
// validating integrity first, or creates a fresh empty generation.
func (s *Store) openNewestGeneration() (*Generation, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read index directory: %w", err)
	}

	var seqs []uint64
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "gen-") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), "gen-"), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, n)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	// Stale lower-numbered generations are leftovers from a crash between
	// swap and cleanup; remove them.
	for i := 0; i+1 < len(seqs); i++ {
		_ = os.RemoveAll(s.generationPath(seqs[i]))
	}

	if len(seqs) > 0 {
		newest := seqs[len(seqs)-1]
		path := s.generationPath(newest)

		if err := validateGenerationIntegrity(path); err != nil {
			slog.Warn("index generation corrupted, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("index corrupted at %s and cannot remove: %w (original error: %v)", path, rmErr, err)
			}
			s.recovered = true
		} else {
			idx, err := bleve.Open(path)
			if err == nil {
				s.genSeq.Store(newest)
				return newGeneration(newest, idx, path), nil
			}
			if !isCorruptionError(err) {
				return nil, fmt.Errorf("open index generation: %w", err)
			}
			slog.Warn("index generation open failed, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("index corrupted, cannot clear: %w (original: %v)", rmErr, err)
			}
			s.recovered = true
		}
		s.genSeq.Store(newest)
	}

	return s.createGeneration()
}

// createGeneration makes a fresh empty generation directory.
func (s *Store) createGeneration() (*Generation, error) {
	seq := s.genSeq.Add(1)
	if s.dir == "" {
		idx, err := bleve.NewMemOnly(buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create in-memory generation: %w", err)
		}
		return newGeneration(seq, idx, ""), nil
	}

	path := s.generationPath(seq)
	idx, err := bleve.New(path, buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index generation: %w", err)
	}
	return newGeneration(seq, idx, path), nil
}

func (s *Store) generationPath(seq uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("gen-%06d", seq))
}

// Acquire returns the currently served generation with its refcount
// incremented. The caller must Release it when the query completes.
func (s *Store) Acquire() *Generation {
	for {
		g := s.current.Load()
		if g == nil {
			return nil
		}
		if g.tryAcquire() {
			return g
		}
		// Lost the race against a swap; the new pointer is already set.
	}
}

// Upsert replaces the document with doc.ID in the served generation.
func (s *Store) Upsert(doc *document.IndexDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index store is closed")
	}
	fields, err := bleveDoc(doc)
	if err != nil {
		return err
	}
	if err := s.current.Load().idx.Index(doc.ID, fields); err != nil {
		return fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes a document by id. Absence is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index store is closed")
	}
	if err := s.current.Load().idx.Delete(id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// ApplyBatch applies a coalesced batch of upserts and deletes in one
// Bleve batch commit. Order within the batch is already resolved by the
// worker (last write per id wins).
func (s *Store) ApplyBatch(upserts []*document.IndexDocument, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index store is closed")
	}

	idx := s.current.Load().idx
	batch := idx.NewBatch()
	for _, doc := range upserts {
		fields, err := bleveDoc(doc)
		if err != nil {
			return err
		}
		if err := batch.Index(doc.ID, fields); err != nil {
			return fmt.Errorf("batch index %s: %w", doc.ID, err)
		}
	}
	for _, id := range deletes {
		batch.Delete(id)
	}

	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// DocCount returns the served generation's document count.
func (s *Store) DocCount() (uint64, error) {
	g := s.Acquire()
	if g == nil {
		return 0, fmt.Errorf("index store is closed")
	}
	defer g.Release()
	return g.DocCount()
}

// NewGeneration opens a new, empty generation for a rebuild. The served
// generation is untouched until Commit swaps the pointer.
func (s *Store) NewGeneration() (*GenerationBuilder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("index store is closed")
	}
	gen, err := s.createGeneration()
	if err != nil {
		return nil, err
	}
	return &GenerationBuilder{store: s, gen: gen, batch: gen.idx.NewBatch()}, nil
}

// swap publishes gen as the served generation and retires the old one.
func (s *Store) swap(gen *Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Swap(gen)
	if old != nil {
		old.retire(true)
	}
}

// Close retires the served generation and releases the writer lock.
// In-flight readers keep their generation until they release it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	// Keep the directory: the retired generation is the one the next
	// open resumes from.
	if old := s.current.Swap(nil); old != nil {
		old.retire(false)
	}
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}

// GenerationBuilder accumulates documents for a rebuild generation.
type GenerationBuilder struct {
	store   *Store
	gen     *Generation
	batch   *bleve.Batch
	pending int
	count   int
}

// Add inserts one document into the new generation.
func (b *GenerationBuilder) Add(doc *document.IndexDocument) error {
	fields, err := bleveDoc(doc)
	if err != nil {
		return err
	}
	if err := b.batch.Index(doc.ID, fields); err != nil {
		return fmt.Errorf("rebuild index %s: %w", doc.ID, err)
	}
	b.pending++
	b.count++
	if b.pending >= rebuildBatchSize {
		return b.flush()
	}
	return nil
}

func (b *GenerationBuilder) flush() error {
	if b.pending == 0 {
		return nil
	}
	if err := b.gen.idx.Batch(b.batch); err != nil {
		return fmt.Errorf("flush rebuild batch: %w", err)
	}
	b.batch = b.gen.idx.NewBatch()
	b.pending = 0
	return nil
}

// Count returns how many documents were added so far.
func (b *GenerationBuilder) Count() int {
	return b.count
}

// Commit flushes remaining documents and atomically swaps the served
// generation pointer. Readers already holding the old generation finish
// against it; it is discarded when its last reference is released.
func (b *GenerationBuilder) Commit() error {
	if err := b.flush(); err != nil {
		b.Abort()
		return err
	}
	b.store.swap(b.gen)
	return nil
}

// Abort discards the new generation without touching the served one.
func (b *GenerationBuilder) Abort() {
	b.gen.retire(true)
}

// validateGenerationIntegrity checks a Bleve index directory before
// opening it, so a truncated index_meta.json from a crash mid-commit is
// detected up front rather than failing deep inside Bleve.
func validateGenerationIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isCorruptionError checks if an error indicates Bleve index corruption.
func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "unexpected end of JSON") ||
		strings.Contains(errStr, "error parsing mapping JSON") ||
		strings.Contains(errStr, "failed to load segment") ||
		strings.Contains(errStr, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

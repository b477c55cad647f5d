// Package service wires the indexing subsystem together: entry store,
// operation queue, background worker, rebuild coordination, change-log
// polling, and query execution behind one facade.
package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/inkpress/blogsearch/internal/config"
	"github.com/inkpress/blogsearch/internal/entry"
	bserrors "github.com/inkpress/blogsearch/internal/errors"
	"github.com/inkpress/blogsearch/internal/index"
	"github.com/inkpress/blogsearch/internal/notify"
	"github.com/inkpress/blogsearch/internal/query"
	"github.com/inkpress/blogsearch/internal/queue"
	"github.com/inkpress/blogsearch/internal/worker"
)

// pendingMarker is created before a rebuild is requested and removed
// once it completes. Its presence at startup means a previous process
// died mid-rebuild, so the index may be stale or partial.
const pendingMarker = "rebuild.pending"

// Service owns the full indexing pipeline for one blog platform
// deployment.
type Service struct {
	config  *config.Config
	entries *entry.SQLiteStore
	store   *index.Store
	queue   *queue.Queue
	worker  *worker.Worker
	coord   *worker.Coordinator
	querySv *query.Service
	metrics *query.Metrics
	poller  *notify.Poller
}

// Status is a point-in-time view of the pipeline's health.
type Status struct {
	worker.Health

	DocCount      uint64                `json:"doc_count"`
	GenerationSeq uint64                `json:"generation_seq"`
	ChangeLogSeq  int64                 `json:"change_log_seq,omitempty"`
	Queries       query.MetricsSnapshot `json:"queries"`
}

// New assembles a service from configuration. Nothing runs until Start.
func New(cfg *config.Config) (*Service, error) {
	entries, err := entry.OpenSQLite(cfg.Paths.EntryDB)
	if err != nil {
		return nil, fmt.Errorf("open entry store: %w", err)
	}

	store, err := index.Open(cfg.Paths.IndexDir)
	if err != nil {
		_ = entries.Close()
		return nil, fmt.Errorf("open index store: %w", err)
	}

	q := queue.New(queue.Config{
		HighWater: cfg.Queue.HighWater,
		LowWater:  cfg.Queue.LowWater,
	})

	retry := bserrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Indexer.FetchRetries

	s := &Service{config: cfg, entries: entries, store: store, queue: q}

	w := worker.New(worker.Config{
		Queue:      q,
		Store:      store,
		Entries:    entries,
		BatchSize:  cfg.Indexer.BatchSize,
		FetchRetry: retry,
		// The marker makes degradation survive a crash: the next start
		// sees it and rebuilds even if this process never manages to.
		OnDegraded: func(cause error) {
			if err := s.writePendingMarker(); err != nil {
				slog.Warn("could not write rebuild marker", slog.String("error", err.Error()))
			}
		},
	})

	metrics := query.NewMetrics()
	querySv := query.New(query.Config{
		Store:         store,
		TitleBoost:    cfg.Search.TitleBoost,
		CommentsBoost: cfg.Search.CommentsBoost,
		DefaultLimit:  cfg.Search.MaxResults,
		MaxConcurrent: int64(cfg.Search.MaxConcurrent),
		Metrics:       metrics,
	})

	s.worker = w
	s.coord = worker.NewCoordinator(q)
	s.querySv = querySv
	s.metrics = metrics

	if cfg.Notify.Enabled {
		interval, err := cfg.PollInterval()
		if err != nil {
			_ = store.Close()
			_ = entries.Close()
			return nil, err
		}
		s.poller = notify.New(notify.Config{
			Entries:      entries,
			Queue:        q,
			PollInterval: interval,
			WatchPath:    cfg.Paths.EntryDB,
		})
	}

	return s, nil
}

// Start launches the worker and poller. A full rebuild is requested
// immediately if RebuildOnStart is configured, a previous process died
// with a rebuild pending, or a corrupted index was cleared during open.
func (s *Service) Start(ctx context.Context) error {
	s.worker.Start(ctx)
	if s.poller != nil {
		s.poller.Start(ctx)
	}

	if s.config.Indexer.RebuildOnStart || s.hasPendingMarker() || s.store.RecoveredFromCorruption() {
		slog.Info("requesting full rebuild at startup",
			slog.Bool("configured", s.config.Indexer.RebuildOnStart),
			slog.Bool("pending_marker", s.hasPendingMarker()),
			slog.Bool("recovered", s.store.RecoveredFromCorruption()))
		if _, err := s.RequestRebuild(); err != nil {
			return err
		}
	}
	return nil
}

// EnqueueAdd schedules (re)indexing of the given entry.
func (s *Service) EnqueueAdd(id string) error {
	return s.queue.Enqueue(queue.Add(id))
}

// EnqueueRemove schedules removal of the given entry from the index.
func (s *Service) EnqueueRemove(id string) error {
	return s.queue.Enqueue(queue.Remove(id))
}

// Search executes a query against the current index generation.
func (s *Service) Search(ctx context.Context, queryText string, f query.Filters) (iter.Seq[query.Hit], error) {
	return s.querySv.Search(ctx, queryText, f)
}

// RequestRebuild schedules a full index reconstruction and returns a
// ticket that resolves when it completes. The pending marker survives a
// crash so the next start retries the rebuild.
func (s *Service) RequestRebuild() (*queue.RebuildTicket, error) {
	if err := s.writePendingMarker(); err != nil {
		slog.Warn("could not write rebuild marker", slog.String("error", err.Error()))
	}

	ticket, err := s.coord.RequestRebuild()
	if err != nil {
		return nil, err
	}

	go func() {
		<-ticket.Done()
		if ticket.Err() == nil {
			s.clearPendingMarker()
		}
	}()

	return ticket, nil
}

// Entries exposes the authoritative entry store, for callers that
// mutate blog content (the CLI put/delete commands, HTTP handlers).
func (s *Service) Entries() *entry.SQLiteStore {
	return s.entries
}

// Status reports pipeline health.
func (s *Service) Status() Status {
	st := Status{
		Health:  s.worker.Health(),
		Queries: s.metrics.Snapshot(),
	}

	gen := s.store.Acquire()
	if gen != nil {
		st.GenerationSeq = gen.Seq()
		if n, err := gen.DocCount(); err == nil {
			st.DocCount = n
		}
		gen.Release()
	}

	if s.poller != nil {
		st.ChangeLogSeq = s.poller.LastSeq()
	}
	return st
}

// Close drains and shuts the pipeline down in dependency order: stop
// producing, let the worker finish queued work, then close storage.
func (s *Service) Close() error {
	if s.poller != nil {
		s.poller.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.worker.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("worker did not drain within shutdown deadline")
	}

	var firstErr error
	if err := s.store.Close(); err != nil {
		firstErr = err
	}
	if err := s.entries.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) markerPath() string {
	if s.config.Paths.IndexDir == "" {
		return ""
	}
	return filepath.Join(s.config.Paths.IndexDir, pendingMarker)
}

func (s *Service) hasPendingMarker() bool {
	p := s.markerPath()
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}

func (s *Service) writePendingMarker() error {
	p := s.markerPath()
	if p == "" {
		return nil
	}
	return os.WriteFile(p, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

func (s *Service) clearPendingMarker() {
	p := s.markerPath()
	if p == "" {
		return
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		slog.Debug("could not remove rebuild marker", slog.String("error", err.Error()))
	}
}

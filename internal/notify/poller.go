// Package notify turns the entry store's durable change log into index
// operations. Polling the sequence-numbered log (instead of trusting
// every mutation path to call Enqueue) removes the silent-loss risk
// around process restarts: the poller resumes from the last consumed
// sequence number.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inkpress/blogsearch/internal/entry"
	"github.com/inkpress/blogsearch/internal/queue"
)

// DefaultPollInterval is the change-log poll interval when fsnotify
// wake-ups are unavailable or quiet.
const DefaultPollInterval = 2 * time.Second

// changeBatchSize caps change-log rows fetched per poll.
const changeBatchSize = 256

// Config configures the Poller.
type Config struct {
	// Entries is the store whose change log is consumed.
	Entries entry.Store

	// Queue receives the resulting Add/Remove operations.
	Queue *queue.Queue

	// StartSeq is the last change-log sequence already applied; the
	// poller resumes strictly after it.
	StartSeq int64

	// PollInterval overrides DefaultPollInterval when > 0.
	PollInterval time.Duration

	// WatchPath, when set, is a file watched with fsnotify so writes to
	// the entry database wake the poller ahead of the next interval.
	// Polling still runs regardless: fsnotify is an accelerator, not a
	// correctness requirement.
	WatchPath string
}

// Poller is the change-log consumer. One Poller per queue.
type Poller struct {
	config  Config
	watcher *fsnotify.Watcher

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	lastSeq int64
}

// New creates a poller. Call Start to begin consuming.
func New(cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Poller{
		config: cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the poll loop in a background goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.lastSeq = p.config.StartSeq
	p.mu.Unlock()

	if p.config.WatchPath != "" {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if addErr := w.Add(p.config.WatchPath); addErr != nil {
				slog.Debug("fsnotify watch unavailable, using interval polling only",
					slog.String("path", p.config.WatchPath),
					slog.String("error", addErr.Error()))
				_ = w.Close()
			} else {
				p.watcher = w
			}
		}
	}

	go p.run(ctx)
}

// Stop halts the poll loop and waits for it to exit. Stopping a poller
// that was never started is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	<-p.doneCh
}

// LastSeq returns the last change-log sequence handed to the queue.
func (p *Poller) LastSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)
	if p.watcher != nil {
		defer func() { _ = p.watcher.Close() }()
	}

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	if p.watcher != nil {
		fsEvents = p.watcher.Events
		fsErrors = p.watcher.Errors
	}

	p.drainOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.drainOnce(ctx)
		case _, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			p.drainOnce(ctx)
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			slog.Debug("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// drainOnce consumes all pending change-log rows and enqueues one
// operation per row, preserving commit order.
func (p *Poller) drainOnce(ctx context.Context) {
	for {
		p.mu.Lock()
		since := p.lastSeq
		p.mu.Unlock()

		changes, err := p.config.Entries.ChangesSince(ctx, since, changeBatchSize)
		if err != nil {
			slog.Warn("change log poll failed", slog.String("error", err.Error()))
			return
		}
		if len(changes) == 0 {
			return
		}

		for _, c := range changes {
			var op queue.Op
			switch c.Kind {
			case entry.ChangeRemove:
				op = queue.Remove(c.EntryID)
			default:
				op = queue.Add(c.EntryID)
			}
			if err := p.config.Queue.Enqueue(op); err != nil {
				slog.Warn("enqueue from change log failed",
					slog.String("entry_id", c.EntryID),
					slog.String("error", err.Error()))
				return
			}
			p.mu.Lock()
			p.lastSeq = c.Seq
			p.mu.Unlock()
		}

		if len(changes) < changeBatchSize {
			return
		}
	}
}

package worker

import "time"

// Health is the status snapshot surfaced to monitoring.
type Health struct {
	QueueDepth     int       `json:"queue_depth"`
	Degraded       bool      `json:"degraded"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
	Backlog        int       `json:"backlog"`
	Applied        uint64    `json:"applied"`
	Skipped        uint64    `json:"skipped"`
	LastRebuildAt  time.Time `json:"last_rebuild_at"`
	LastRebuildOK  bool      `json:"last_rebuild_ok"`
	LastRebuildErr string    `json:"last_rebuild_error,omitempty"`
}

// Health returns the current worker status.
func (w *Worker) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := Health{
		QueueDepth:     w.config.Queue.Depth(),
		Degraded:       w.degraded,
		DegradedReason: w.degradedReason,
		Backlog:        w.backlog,
		Applied:        w.applied,
		Skipped:        w.skipped,
		LastRebuildAt:  w.lastRebuildAt,
		LastRebuildOK:  !w.lastRebuildAt.IsZero() && w.lastRebuildErr == nil,
	}
	if w.lastRebuildErr != nil {
		h.LastRebuildErr = w.lastRebuildErr.Error()
	}
	return h
}

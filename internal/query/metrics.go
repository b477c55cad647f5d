package query

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MetricsConfig tunes the query telemetry collector.
type MetricsConfig struct {
	// TopTermsCapacity bounds the LRU of query terms (default: 100).
	TopTermsCapacity int
	// RecentQueriesCapacity bounds repeat-query tracking (default: 500).
	RecentQueriesCapacity int
}

// Metrics collects query telemetry. Thread-safe for concurrent searches.
type Metrics struct {
	mu sync.Mutex

	totalQueries    int64
	zeroResultCount int64
	repeatCount     int64
	latencySum      time.Duration
	startTime       time.Time

	topTerms      *lru.Cache[string, int64]
	recentQueries *lru.Cache[string, struct{}]
}

// NewMetrics creates a collector with default capacities.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(MetricsConfig{})
}

// NewMetricsWithConfig creates a collector with custom capacities.
func NewMetricsWithConfig(cfg MetricsConfig) *Metrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &Metrics{
		startTime:     time.Now(),
		topTerms:      topTerms,
		recentQueries: recent,
	}
}

// Record captures one executed search.
func (m *Metrics) Record(queryText string, hits int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalQueries++
	m.latencySum += elapsed
	if hits == 0 {
		m.zeroResultCount++
	}

	normalized := strings.ToLower(strings.TrimSpace(queryText))
	if _, seen := m.recentQueries.Get(normalized); seen {
		m.repeatCount++
	}
	m.recentQueries.Add(normalized, struct{}{})

	for _, term := range strings.Fields(normalized) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}
}

// TermCount is one term with its observed frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// MetricsSnapshot is an immutable copy of the collected telemetry.
type MetricsSnapshot struct {
	TotalQueries   int64         `json:"total_queries"`
	ZeroResults    int64         `json:"zero_results"`
	RepeatQueries  int64         `json:"repeat_queries"`
	AvgLatency     time.Duration `json:"avg_latency"`
	Uptime         time.Duration `json:"uptime"`
	TopTerms       []TermCount   `json:"top_terms"`
}

// Snapshot returns the current telemetry, top terms sorted by count.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		TotalQueries:  m.totalQueries,
		ZeroResults:   m.zeroResultCount,
		RepeatQueries: m.repeatCount,
		Uptime:        time.Since(m.startTime),
	}
	if m.totalQueries > 0 {
		snap.AvgLatency = m.latencySum / time.Duration(m.totalQueries)
	}

	for _, term := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Get(term); ok {
			snap.TopTerms = append(snap.TopTerms, TermCount{Term: term, Count: count})
		}
	}
	sort.Slice(snap.TopTerms, func(i, j int) bool {
		return snap.TopTerms[i].Count > snap.TopTerms[j].Count
	})
	if len(snap.TopTerms) > 10 {
		snap.TopTerms = snap.TopTerms[:10]
	}
	return snap
}

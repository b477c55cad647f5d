// Package query implements the read path: snapshot-isolated, filtered
// full-text searches against the currently served index generation.
package query

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"golang.org/x/sync/semaphore"

	bserrors "github.com/inkpress/blogsearch/internal/errors"
	"github.com/inkpress/blogsearch/internal/index"
)

const (
	// DefaultLimit is the result window size when the caller passes none.
	DefaultLimit = 20
	// MaxLimit caps the result window.
	MaxLimit = 200
	// DefaultMaxConcurrent caps concurrently executing searches.
	DefaultMaxConcurrent = 16

	// defaultTitleBoost weights title matches over body matches.
	defaultTitleBoost = 3.0
	// defaultCommentsBoost weights comment matches under body matches.
	defaultCommentsBoost = 0.5
)

// Filters narrows a search. Zero values mean "all".
type Filters struct {
	SiteHandle   string
	CategoryPath string
	Locale       string
	Offset       int
	Limit        int
}

// Hit is one search result. Resolving the full entry content is the
// caller's responsibility via the authoritative store.
type Hit struct {
	DocumentID  string
	Score       float64
	Title       string
	Snippet     string
	SiteHandle  string
	PublishedAt time.Time
}

// Config configures the query service.
type Config struct {
	// Store is the index store searches read from.
	Store *index.Store

	// TitleBoost weights title matches; defaults to 3.0.
	TitleBoost float64

	// CommentsBoost weights comment matches; defaults to 0.5.
	CommentsBoost float64

	// DefaultLimit is the result window when the caller passes none.
	// Defaults to DefaultLimit; capped at MaxLimit.
	DefaultLimit int

	// MaxConcurrent caps in-flight searches. Defaults to 16.
	MaxConcurrent int64

	// Metrics, when set, records query telemetry.
	Metrics *Metrics
}

// Service executes searches. It never touches the operation queue or the
// store's write side; each search runs against one acquired generation,
// so it observes either fully pre- or fully post-rebuild contents.
type Service struct {
	config Config
	sem    *semaphore.Weighted
}

// New creates a query service.
func New(cfg Config) *Service {
	if cfg.TitleBoost <= 0 {
		cfg.TitleBoost = defaultTitleBoost
	}
	if cfg.CommentsBoost <= 0 {
		cfg.CommentsBoost = defaultCommentsBoost
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.DefaultLimit > MaxLimit {
		cfg.DefaultLimit = MaxLimit
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Service{
		config: cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Search executes a filtered search and returns hits ordered by score
// descending, ties broken by publish time descending. The returned
// sequence is finite, lazily consumed, and non-restartable; abandoning
// it early is the caller-driven cancellation path.
func (s *Service) Search(ctx context.Context, queryText string, f Filters) (iter.Seq[Hit], error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, bserrors.New(bserrors.ErrCodeQueryEmpty, "search query is empty", nil)
	}
	if f.Limit <= 0 {
		f.Limit = s.config.DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	gen := s.config.Store.Acquire()
	if gen == nil {
		return nil, bserrors.New(bserrors.ErrCodeSearchFailed, "index store is closed", nil)
	}
	defer gen.Release()

	req := s.buildRequest(queryText, f)
	start := time.Now()
	res, err := gen.Index().SearchInContext(ctx, req)
	if err != nil {
		return nil, bserrors.Wrap(bserrors.ErrCodeSearchFailed, fmt.Errorf("search %q: %w", queryText, err))
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, match := range res.Hits {
		hits = append(hits, toHit(match.ID, match.Score, match.Fields, match.Fragments))
	}

	if s.config.Metrics != nil {
		s.config.Metrics.Record(queryText, len(hits), time.Since(start))
	}

	// Non-restartable: the cursor survives across partial consumption.
	var pos int
	seq := func(yield func(Hit) bool) {
		for pos < len(hits) {
			h := hits[pos]
			pos++
			if !yield(h) {
				return
			}
		}
	}
	return seq, nil
}

// buildRequest assembles the Bleve request: boosted text disjunction
// conjoined with exact-match filters and publication guards.
func (s *Service) buildRequest(queryText string, f Filters) *bleve.SearchRequest {
	title := bleve.NewMatchQuery(queryText)
	title.SetField(index.FieldTitle)
	title.SetBoost(s.config.TitleBoost)

	body := bleve.NewMatchQuery(queryText)
	body.SetField(index.FieldBody)

	comments := bleve.NewMatchQuery(queryText)
	comments.SetField(index.FieldComments)
	comments.SetBoost(s.config.CommentsBoost)

	text := bleve.NewDisjunctionQuery(title, body, comments)

	conjuncts := []blevequery.Query{text}

	if f.SiteHandle != "" {
		q := bleve.NewTermQuery(f.SiteHandle)
		q.SetField(index.FieldSiteHandle)
		conjuncts = append(conjuncts, q)
	}
	if f.CategoryPath != "" {
		q := bleve.NewTermQuery(f.CategoryPath)
		q.SetField(index.FieldCategoryPath)
		conjuncts = append(conjuncts, q)
	}
	if f.Locale != "" {
		q := bleve.NewTermQuery(f.Locale)
		q.SetField(index.FieldLocale)
		conjuncts = append(conjuncts, q)
	}

	searchable := bleve.NewBoolFieldQuery(true)
	searchable.SetField(index.FieldSearchable)
	conjuncts = append(conjuncts, searchable)

	// Exclude scheduled entries whose publish time has not arrived.
	published := bleve.NewDateRangeQuery(time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC), time.Now())
	published.SetField(index.FieldPublishedAt)
	conjuncts = append(conjuncts, published)

	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), f.Limit, f.Offset, false)
	req.SortBy([]string{"-_score", "-" + index.FieldPublishedAt})
	req.Fields = []string{index.FieldTitle, index.FieldSiteHandle, index.FieldPublishedAt}
	req.Highlight = bleve.NewHighlight()
	req.Highlight.AddField(index.FieldBody)
	return req
}

// toHit converts one Bleve match into a Hit.
func toHit(id string, score float64, fields map[string]any, fragments map[string][]string) Hit {
	h := Hit{DocumentID: id, Score: score}

	if title, ok := fields[index.FieldTitle].(string); ok {
		h.Title = title
	}
	if site, ok := fields[index.FieldSiteHandle].(string); ok {
		h.SiteHandle = site
	}
	if raw, ok := fields[index.FieldPublishedAt].(string); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			h.PublishedAt = t
		}
	}
	if frags := fragments[index.FieldBody]; len(frags) > 0 {
		h.Snippet = frags[0]
	} else {
		h.Snippet = h.Title
	}
	return h
}

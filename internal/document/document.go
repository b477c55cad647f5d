// Package document defines the searchable projection of a blog entry.
package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/inkpress/blogsearch/internal/entry"
)

// IndexDocument is the searchable unit stored in the index. One document
// per entry; re-adding with the same ID replaces the prior document.
type IndexDocument struct {
	ID           string    `json:"id"`
	SiteHandle   string    `json:"site_handle"`
	CategoryPath string    `json:"category_path"`
	Locale       string    `json:"locale"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Comments     string    `json:"comments"`
	PublishedAt  time.Time `json:"published_at"`
	Searchable   bool      `json:"searchable"`
}

// FromSnapshot builds an IndexDocument from an entry snapshot taken at
// apply time. Returns an error for snapshots that cannot be represented
// in the index; such entries are skipped and logged, never fatal.
func FromSnapshot(snap *entry.Snapshot) (*IndexDocument, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil entry snapshot")
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("entry has empty id")
	}
	if strings.TrimSpace(snap.Title) == "" && strings.TrimSpace(snap.Body) == "" {
		return nil, fmt.Errorf("entry %s has no indexable text", snap.ID)
	}

	return &IndexDocument{
		ID:           snap.ID,
		SiteHandle:   snap.SiteHandle,
		CategoryPath: snap.CategoryPath,
		Locale:       snap.Locale,
		Title:        snap.Title,
		Body:         snap.Body,
		Comments:     snap.Comments,
		PublishedAt:  snap.PublishedAt,
		Searchable:   snap.Publishable(time.Now()),
	}, nil
}

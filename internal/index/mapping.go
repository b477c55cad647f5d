// Package index provides the single-writer, multi-reader full-text index
// built on Bleve v2. Readers hold reference-counted generations; the
// served generation pointer is swapped atomically on rebuild.
package index

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/inkpress/blogsearch/internal/document"
)

// Index field names. Queries filter on the keyword fields and match on
// the text fields, so the two sets use different analyzers.
const (
	FieldTitle        = "title"
	FieldBody         = "body"
	FieldComments     = "comments"
	FieldSiteHandle   = "site_handle"
	FieldCategoryPath = "category_path"
	FieldLocale       = "locale"
	FieldPublishedAt  = "published_at"
	FieldSearchable   = "searchable"
)

// buildIndexMapping creates the Bleve mapping for blog entry documents.
func buildIndexMapping() mapping.IndexMapping {
	// Free-text fields, English analyzer for stemming. Title and body are
	// stored so hits can carry titles and snippet fragments.
	titleField := bleve.NewTextFieldMapping()
	titleField.Analyzer = en.AnalyzerName
	titleField.Store = true

	bodyField := bleve.NewTextFieldMapping()
	bodyField.Analyzer = en.AnalyzerName
	bodyField.Store = true

	commentsField := bleve.NewTextFieldMapping()
	commentsField.Analyzer = en.AnalyzerName
	commentsField.Store = false

	// Exact-match filter fields.
	keywordField := bleve.NewTextFieldMapping()
	keywordField.Analyzer = keyword.Name
	keywordField.Store = true

	publishedField := bleve.NewDateTimeFieldMapping()
	publishedField.Store = true

	searchableField := bleve.NewBooleanFieldMapping()
	searchableField.Store = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt(FieldTitle, titleField)
	docMapping.AddFieldMappingsAt(FieldBody, bodyField)
	docMapping.AddFieldMappingsAt(FieldComments, commentsField)
	docMapping.AddFieldMappingsAt(FieldSiteHandle, keywordField)
	docMapping.AddFieldMappingsAt(FieldCategoryPath, keywordField)
	docMapping.AddFieldMappingsAt(FieldLocale, keywordField)
	docMapping.AddFieldMappingsAt(FieldPublishedAt, publishedField)
	docMapping.AddFieldMappingsAt(FieldSearchable, searchableField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	return indexMapping
}

// bleveDoc converts an IndexDocument into the flat form Bleve indexes.
// A map keeps field names under our control instead of Go struct names.
func bleveDoc(doc *document.IndexDocument) (map[string]any, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("document has empty id")
	}
	return map[string]any{
		FieldTitle:        doc.Title,
		FieldBody:         doc.Body,
		FieldComments:     doc.Comments,
		FieldSiteHandle:   doc.SiteHandle,
		FieldCategoryPath: doc.CategoryPath,
		FieldLocale:       doc.Locale,
		FieldPublishedAt:  doc.PublishedAt,
		FieldSearchable:   doc.Searchable,
	}, nil
}

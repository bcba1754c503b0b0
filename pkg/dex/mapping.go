package dex

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
)

const (
	ngramAnalyzerName    = "wikiNgram"
	ngramTokenFilterName = "wikiNgramFilter"
)

// Mapping builds the bleve index mapping for s. The unique field of s is
// used as bleve document id by the writers.
func Mapping(s *Schema) (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name

	if err := im.AddCustomTokenFilter(ngramTokenFilterName, map[string]any{
		"type": ngram.Name,
		"min":  3.0,
		"max":  6.0,
	}); err != nil {
		return nil, fmt.Errorf("add token filter: %w", err)
	}
	if err := im.AddCustomAnalyzer(ngramAnalyzerName, map[string]any{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			ngramTokenFilterName,
		},
	}); err != nil {
		return nil, fmt.Errorf("add analyzer: %w", err)
	}

	root := bleve.NewDocumentMapping()
	root.Dynamic = false
	for _, name := range s.FieldNames() {
		f, _ := s.Field(name)
		root.AddFieldMappingsAt(name, fieldMapping(f))
	}
	for _, d := range DynamicFields {
		root.AddSubDocumentMapping(d.Group, dynamicMapping(d))
	}

	im.DefaultMapping = root
	im.StoreDynamic = true
	im.IndexDynamic = true
	return im, nil
}

func fieldMapping(f Field) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Type {
	case ID, Keyword:
		fm = bleve.NewKeywordFieldMapping()
		fm.IncludeInAll = false
	case Text:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = standard.Name
		fm.IncludeInAll = true
	case NGram:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = ngramAnalyzerName
		fm.IncludeInAll = false
		fm.DocValues = false
	case Numeric:
		fm = bleve.NewNumericFieldMapping()
		fm.IncludeInAll = false
	case DateTime:
		fm = bleve.NewDateTimeFieldMapping()
		fm.IncludeInAll = false
	case Boolean:
		fm = bleve.NewBooleanFieldMapping()
		fm.IncludeInAll = false
	}
	fm.Store = f.Stored
	return fm
}

// dynamicMapping accepts any property below the family's group. Strings are
// analyzed with the family's analyzer; numbers, times and booleans map to
// their native field types.
func dynamicMapping(d DynamicField) *mapping.DocumentMapping {
	dm := bleve.NewDocumentMapping()
	dm.Dynamic = true
	switch d.Type {
	case ID, Keyword:
		dm.DefaultAnalyzer = keyword.Name
	default:
		dm.DefaultAnalyzer = standard.Name
	}
	return dm
}

package dex

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/jlrickert/wikidex/pkg/keys"
)

// Query is a bleve query.
type Query = query.Query

// Term matches documents whose exact match field equals value.
func Term(field, value string) Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

// Exact matches documents where every field equals its value. An empty map
// matches everything.
func Exact(fields map[string]string) Query {
	if len(fields) == 0 {
		return All()
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	slices.Sort(names)
	qs := make([]Query, 0, len(names))
	for _, k := range names {
		qs = append(qs, Term(k, fields[k]))
	}
	return And(qs...)
}

func And(qs ...Query) Query {
	if len(qs) == 1 {
		return qs[0]
	}
	return bleve.NewConjunctionQuery(qs...)
}

func All() Query { return bleve.NewMatchAllQuery() }

func Prefix(field, prefix string) Query {
	q := bleve.NewPrefixQuery(prefix)
	q.SetField(field)
	return q
}

// Match analyzes text with the field analyzer and matches any of its terms.
func Match(field, text string) Query {
	q := bleve.NewMatchQuery(text)
	q.SetField(field)
	return q
}

func Bool(field string, v bool) Query {
	q := bleve.NewBoolFieldQuery(v)
	q.SetField(field)
	return q
}

// Parse builds a query from the bleve query string syntax, for example
// `+tags:wiki content:index`.
func Parse(s string) Query {
	return bleve.NewQueryStringQuery(s)
}

// SearchRequest describes one search.
type SearchRequest struct {
	// Index defaults to latest_revs.
	Index string
	// Query defaults to All.
	Query Query
	// SortBy lists field names, "-" prefixed for descending. "_id" and
	// "_score" are supported. Empty means by score.
	SortBy []string
	// Limit caps the number of hits; zero or less returns every hit.
	Limit  int
	Offset int
	// Fields limits the stored fields loaded per hit. Nil loads all.
	Fields []string
}

// Hit is one search result.
type Hit struct {
	ID    string
	Score float64
	Doc   Document
}

// Result holds the hits of a search and the total number of matches.
type Result struct {
	Total uint64
	Hits  []Hit
}

// search runs req against one opened index. The hits are materialized from
// a single index snapshot.
func search(ctx context.Context, ix *index, req SearchRequest) (*Result, error) {
	q := req.Query
	if q == nil {
		q = All()
	}
	size := req.Limit
	if size <= 0 {
		n, err := ix.bi.DocCount()
		if err != nil {
			return nil, err
		}
		size = int(n)
	}
	sr := bleve.NewSearchRequestOptions(q, size, req.Offset, false)
	if req.Fields == nil {
		sr.Fields = []string{"*"}
	} else {
		sr.Fields = req.Fields
	}
	if len(req.SortBy) > 0 {
		sr.SortBy(req.SortBy)
	}
	res, err := ix.bi.SearchInContext(ctx, sr)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ix.name, err)
	}
	out := &Result{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Doc: decodeFields(ix.schema, h.Fields)})
	}
	return out, nil
}

func indexName(name string) string {
	if name == "" {
		return keys.LatestRevs
	}
	return name
}

// Search runs req against the live indexes.
func (x *Indexer) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	g, release, err := x.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	ix, ok := g.indexes[indexName(req.Index)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown index %q", ErrInvalid, req.Index)
	}
	return search(ctx, ix, req)
}

// Iter yields the hits of req. The live generation stays pinned until the
// sequence is exhausted or abandoned, so Close waits for open iterations.
func (x *Indexer) Iter(ctx context.Context, req SearchRequest) iter.Seq2[Hit, error] {
	return func(yield func(Hit, error) bool) {
		g, release, err := x.acquire()
		if err != nil {
			yield(Hit{}, err)
			return
		}
		defer release()
		ix, ok := g.indexes[indexName(req.Index)]
		if !ok {
			yield(Hit{}, fmt.Errorf("%w: unknown index %q", ErrInvalid, req.Index))
			return
		}
		res, err := search(ctx, ix, req)
		if err != nil {
			yield(Hit{}, err)
			return
		}
		for _, h := range res.Hits {
			if !yield(h, nil) {
				return
			}
		}
	}
}

// Count returns the number of documents matching q.
func (x *Indexer) Count(ctx context.Context, name string, q Query) (uint64, error) {
	res, err := x.Search(ctx, SearchRequest{Index: name, Query: q, Limit: 1, Fields: []string{}})
	if err != nil {
		return 0, err
	}
	return res.Total, nil
}

// Document returns the first document matching q.
func (x *Indexer) Document(ctx context.Context, name string, q Query) (Document, bool, error) {
	res, err := x.Search(ctx, SearchRequest{Index: name, Query: q, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	return res.Hits[0].Doc, true, nil
}

// DocCount returns the number of documents in an index.
func (x *Indexer) DocCount(ctx context.Context, name string) (uint64, error) {
	g, release, err := x.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	ix, ok := g.indexes[indexName(name)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown index %q", ErrInvalid, name)
	}
	return ix.bi.DocCount()
}

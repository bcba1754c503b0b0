// Package wiki is the item facade over the revision backend and its
// indexes: items are looked up in the latest revisions index, revisions in
// the all revisions index, and every store or destroy keeps both in step
// with the backend.
package wiki

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jlrickert/cli-toolkit/clock"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

// ItemIDPrefix selects an item by id in GetItem, as in "@itemid/<id>".
const ItemIDPrefix = "@itemid/"

const (
	DefaultIndexerTimeout = 20 * time.Second
	DefaultIndexerRetry   = 2 * time.Second
)

// Query selects an item by fields of the latest revisions index, such as
// {name_exact: "Home", namespace: ""} or {itemid: "..."}. An empty value
// matches documents where the field is missing or empty.
type Query map[string]string

func (q Query) String() string {
	parts := make([]string, 0, len(q))
	for k, v := range q {
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (q Query) query() dex.Query {
	terms := map[string]string{}
	for k, v := range q {
		if v != "" {
			terms[k] = v
		}
	}
	return dex.Exact(terms)
}

func (q Query) matches(doc dex.Document) bool {
	for k, v := range q {
		if v == "" && slices.ContainsFunc(doc.Strings(k), func(s string) bool { return s != "" }) {
			return false
		}
	}
	return true
}

// NameResolver splits fully qualified names into namespace and local name.
// backend.Router implements it.
type NameResolver interface {
	SplitName(fqName string) (namespace, name string)
	BackendFor(namespace string) string
}

// Options configure a Storage.
type Options struct {
	WikiName   string
	Validation ValidationMode
	// IndexerTimeout bounds the wait for a just stored revision to show up
	// in the latest revisions index.
	IndexerTimeout time.Duration
	IndexerRetry   time.Duration
	// Names resolves namespaces. Without it every name is in the default
	// namespace.
	Names NameResolver
	Clock clock.Clock
}

// Storage is the entry point for item access.
type Storage struct {
	ix   *dex.Indexer
	be   backend.Backend
	opts Options
}

// New returns a Storage reading and writing through ix and its backend.
func New(ix *dex.Indexer, opts Options) *Storage {
	if opts.Validation == "" {
		opts.Validation = ValidationStrict
	}
	if opts.IndexerTimeout <= 0 {
		opts.IndexerTimeout = DefaultIndexerTimeout
	}
	if opts.IndexerRetry <= 0 {
		opts.IndexerRetry = DefaultIndexerRetry
	}
	if opts.Clock == nil {
		opts.Clock = clock.Default()
	}
	if opts.WikiName == "" {
		opts.WikiName = ix.WikiName()
	}
	if opts.Names == nil {
		if r, ok := ix.Backend().(NameResolver); ok {
			opts.Names = r
		}
	}
	return &Storage{ix: ix, be: ix.Backend(), opts: opts}
}

func (s *Storage) Indexer() *dex.Indexer { return s.ix }

func (s *Storage) splitName(fqName string) (string, string) {
	if s.opts.Names == nil {
		return "", fqName
	}
	return s.opts.Names.SplitName(fqName)
}

func (s *Storage) backendFor(namespace string) string {
	if s.opts.Names == nil {
		return ""
	}
	return s.opts.Names.BackendFor(namespace)
}

// lookup returns the first document of the named index matching q.
func (s *Storage) lookup(ctx context.Context, index string, q Query) (dex.Document, bool, error) {
	res, err := s.ix.Search(ctx, dex.SearchRequest{Index: index, Query: q.query(), SortBy: []string{"_id"}})
	if err != nil {
		return nil, false, err
	}
	for _, h := range res.Hits {
		if q.matches(h.Doc) {
			return h.Doc, true, nil
		}
	}
	return nil, false, nil
}

// await polls the latest revisions index until a document matches q. A
// buffered write may land after the store call returned, so a miss is
// retried until IndexerTimeout.
func (s *Storage) await(ctx context.Context, q Query) (dex.Document, error) {
	if err := s.ix.Flush(ctx); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(s.opts.IndexerTimeout)
	ticker := time.NewTicker(s.opts.IndexerRetry)
	defer ticker.Stop()
	for {
		doc, ok, err := s.lookup(ctx, keys.LatestRevs, q)
		if err != nil {
			return nil, err
		}
		if ok {
			return doc, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s: server overload or corrupt index: %w", q, ErrNotExist)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetItem returns the item named name, or the item with the given id when
// name is "@itemid/<id>". A missing item is returned with Exists false.
func (s *Storage) GetItem(ctx context.Context, name string) (*Item, error) {
	if id, ok := strings.CutPrefix(name, ItemIDPrefix); ok {
		return s.GetItemBy(ctx, Query{keys.ItemID: id})
	}
	ns, local := s.splitName(name)
	return s.GetItemBy(ctx, Query{keys.NameExact: local, keys.Namespace: ns})
}

// GetItemBy returns the item matching q, which may not exist yet.
func (s *Storage) GetItemBy(ctx context.Context, q Query) (*Item, error) {
	return newItem(ctx, s, q, nil)
}

// CreateItem returns the item matching q and fails if it already exists.
func (s *Storage) CreateItem(ctx context.Context, q Query) (*Item, error) {
	it, err := s.GetItemBy(ctx, q)
	if err != nil {
		return nil, err
	}
	if it.Exists() {
		return nil, &ItemAlreadyExistsError{Query: q}
	}
	return it, nil
}

// ExistingItem returns the item matching q and fails if it does not exist.
func (s *Storage) ExistingItem(ctx context.Context, q Query) (*Item, error) {
	it, err := s.GetItemBy(ctx, q)
	if err != nil {
		return nil, err
	}
	if !it.Exists() {
		return nil, &NoSuchItemError{Query: q}
	}
	return it, nil
}

// HasItem reports whether an item named name exists.
func (s *Storage) HasItem(ctx context.Context, name string) (bool, error) {
	it, err := s.GetItem(ctx, name)
	if err != nil {
		return false, err
	}
	return it.Exists(), nil
}

// revision builds the Revision of a search hit. Hits from the latest index
// double as the current document of their item.
func (s *Storage) revision(ctx context.Context, index string, doc dex.Document) (*Revision, error) {
	var latest dex.Document
	if index == keys.LatestRevs {
		latest = doc
	}
	it, err := newItem(ctx, s, Query{keys.ItemID: doc.String(keys.ItemID)}, latest)
	if err != nil {
		return nil, err
	}
	return newRevision(it, doc, ""), nil
}

func defaultIndex(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// Search yields the revisions matching req, by default from the latest
// revisions index.
func (s *Storage) Search(ctx context.Context, req dex.SearchRequest) iter.Seq2[*Revision, error] {
	return func(yield func(*Revision, error) bool) {
		req.Index = defaultIndex(req.Index, keys.LatestRevs)
		for h, err := range s.ix.Iter(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			rev, err := s.revision(ctx, req.Index, h.Doc)
			if !yield(rev, err) || err != nil {
				return
			}
		}
	}
}

// SearchPage is Search restricted to one page. Pages start at 1.
func (s *Storage) SearchPage(ctx context.Context, req dex.SearchRequest, page, pageLen int) iter.Seq2[*Revision, error] {
	return s.Search(ctx, paged(req, page, pageLen))
}

// SearchMeta yields the stored documents matching req without building
// revisions, for bulk listings.
func (s *Storage) SearchMeta(ctx context.Context, req dex.SearchRequest) iter.Seq2[dex.Document, error] {
	return func(yield func(dex.Document, error) bool) {
		req.Index = defaultIndex(req.Index, keys.LatestRevs)
		for h, err := range s.ix.Iter(ctx, req) {
			if !yield(h.Doc, err) || err != nil {
				return
			}
		}
	}
}

func (s *Storage) SearchMetaPage(ctx context.Context, req dex.SearchRequest, page, pageLen int) iter.Seq2[dex.Document, error] {
	return s.SearchMeta(ctx, paged(req, page, pageLen))
}

func paged(req dex.SearchRequest, page, pageLen int) dex.SearchRequest {
	if page < 1 {
		page = 1
	}
	if pageLen < 1 {
		pageLen = 10
	}
	req.Offset = (page - 1) * pageLen
	req.Limit = pageLen
	return req
}

// SearchResultsSize counts the matches of q, by default in the all
// revisions index.
func (s *Storage) SearchResultsSize(ctx context.Context, index string, q dex.Query) (uint64, error) {
	return s.ix.Count(ctx, defaultIndex(index, keys.AllRevs), q)
}

// Documents yields the revisions whose documents match q exactly. An empty
// q yields every document of the index.
func (s *Storage) Documents(ctx context.Context, index string, q Query) iter.Seq2[*Revision, error] {
	return func(yield func(*Revision, error) bool) {
		index = defaultIndex(index, keys.LatestRevs)
		for h, err := range s.ix.Iter(ctx, dex.SearchRequest{Index: index, Query: q.query(), SortBy: []string{"_id"}}) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !q.matches(h.Doc) {
				continue
			}
			rev, err := s.revision(ctx, index, h.Doc)
			if !yield(rev, err) || err != nil {
				return
			}
		}
	}
}

// Document returns the first revision whose document matches q.
func (s *Storage) Document(ctx context.Context, index string, q Query) (*Revision, bool, error) {
	index = defaultIndex(index, keys.LatestRevs)
	doc, ok, err := s.lookup(ctx, index, q)
	if err != nil || !ok {
		return nil, false, err
	}
	rev, err := s.revision(ctx, index, doc)
	if err != nil {
		return nil, false, err
	}
	return rev, true, nil
}

// SearchNames returns the first name of every item of this wiki having a
// name that starts with prefix. A limit of zero returns all of them.
func (s *Storage) SearchNames(ctx context.Context, prefix string, limit int) ([]string, error) {
	q := dex.And(dex.Prefix(keys.NameExact, prefix), dex.Term(keys.WikiName, s.opts.WikiName))
	res, err := s.ix.Search(ctx, dex.SearchRequest{
		Query:  q,
		SortBy: []string{keys.NameSort},
		Limit:  limit,
		Fields: []string{keys.Name},
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		if names := h.Doc.Strings(keys.Name); len(names) > 0 {
			out = append(out, names[0])
		}
	}
	log.FromContext(ctx).Debug("searched names", "prefix", prefix, "found", len(out))
	return out, nil
}

package wikidex

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

type PutOptions struct {
	// Name is the fully qualified item name, "ns/name" for namespaced items.
	Name string
	Data io.Reader

	ContentType string
	Comment     string
	Tags        []string
	UserID      string
	// Trash marks the revision as deleted.
	Trash bool
}

// PutResult identifies the stored revision.
type PutResult struct {
	ItemID    string
	RevID     string
	RevNumber int64
}

// Put stores Data as the new current revision of the named item.
func (w *Wikidex) Put(ctx context.Context, opts PutOptions) (PutResult, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return PutResult{}, fmt.Errorf("%w: item name is required", wiki.ErrInvalid)
	}
	store, err := w.Storage(ctx)
	if err != nil {
		return PutResult{}, err
	}
	it, err := store.GetItem(ctx, opts.Name)
	if err != nil {
		return PutResult{}, err
	}
	meta := backend.Meta{keys.Comment: opts.Comment}
	if opts.ContentType != "" {
		meta[keys.ContentType] = opts.ContentType
	}
	if len(opts.Tags) > 0 {
		meta[keys.Tags] = slices.Clone(opts.Tags)
	}
	if opts.Trash {
		meta[keys.Trash] = true
	}
	if parent := it.Current().String(keys.RevID); parent != "" {
		meta[keys.ParentID] = parent
	}
	rev, err := it.StoreRevision(ctx, meta, opts.Data, wiki.StoreOptions{
		Action: keys.ActionSave,
		UserID: opts.UserID,
	})
	if err != nil {
		return PutResult{}, err
	}
	defer rev.Close()
	n, _ := rev.Doc().Float(keys.RevNumber)
	return PutResult{ItemID: it.ItemID(), RevID: rev.RevID(), RevNumber: int64(n)}, nil
}

type GetOptions struct {
	Name string
	// RevID selects a revision. Empty means the current one.
	RevID string
	// Meta writes the metadata as YAML instead of the payload.
	Meta bool
}

// Get writes the payload or the metadata of a revision to out.
func (w *Wikidex) Get(ctx context.Context, opts GetOptions, out io.Writer) error {
	it, err := w.existing(ctx, opts.Name)
	if err != nil {
		return err
	}
	revID := opts.RevID
	if revID == "" {
		revID = keys.CurrentRevID
	}
	rev, err := it.Revision(ctx, revID)
	if err != nil {
		return err
	}
	defer rev.Close()
	if opts.Meta {
		meta, err := rev.Meta().Map(ctx)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any(meta)); err != nil {
			return err
		}
		return enc.Close()
	}
	data, err := rev.Data(ctx)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, data)
	return err
}

// existing resolves name to an item with at least one revision.
func (w *Wikidex) existing(ctx context.Context, name string) (*wiki.Item, error) {
	store, err := w.Storage(ctx)
	if err != nil {
		return nil, err
	}
	it, err := store.GetItem(ctx, name)
	if err != nil {
		return nil, err
	}
	if !it.Exists() {
		return nil, &wiki.NoSuchItemError{Query: wiki.Query{keys.NameExact: name}}
	}
	return it, nil
}

type HistoryOptions struct {
	Name string
	// Limit caps the number of entries. Zero lists every revision.
	Limit int
}

// HistoryEntry describes one revision of an item.
type HistoryEntry struct {
	RevID     string
	RevNumber int64
	MTime     time.Time
	Name      string
	UserID    string
	Comment   string
	Size      int64
	Current   bool
}

// History lists the revisions of an item newest first.
func (w *Wikidex) History(ctx context.Context, opts HistoryOptions) ([]HistoryEntry, error) {
	it, err := w.existing(ctx, opts.Name)
	if err != nil {
		return nil, err
	}
	current := it.Current().String(keys.RevID)
	var out []HistoryEntry
	for rev, err := range it.IterRevisions(ctx) {
		if err != nil {
			return nil, err
		}
		doc := rev.Doc()
		e := HistoryEntry{
			RevID:   rev.RevID(),
			Name:    rev.Name(),
			UserID:  doc.String(keys.UserID),
			Comment: doc.String(keys.Comment),
			Current: rev.RevID() == current,
		}
		if n, ok := doc.Float(keys.RevNumber); ok {
			e.RevNumber = int64(n)
		}
		if n, ok := doc.Float(keys.Size); ok {
			e.Size = int64(n)
		}
		if t, ok := doc.Time(keys.MTime); ok {
			e.MTime = t
		}
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b HistoryEntry) int {
		if c := b.MTime.Compare(a.MTime); c != 0 {
			return c
		}
		return cmp.Compare(a.RevID, b.RevID)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type SearchOptions struct {
	// Query uses the query string syntax, for example "+tags:wiki index".
	// Empty matches everything.
	Query string
	// All searches every revision instead of the latest ones.
	All bool
	// Page and PageLen select a page of results. Page zero returns every
	// hit up to Limit.
	Page    int
	PageLen int
	Limit   int
}

// SearchHit is one search result.
type SearchHit struct {
	Names  string
	ItemID string
	RevID  string
	MTime  time.Time
}

// Search runs a query against the latest or all revisions index. Without a
// query the hits are sorted by name.
func (w *Wikidex) Search(ctx context.Context, opts SearchOptions) ([]SearchHit, error) {
	store, err := w.Storage(ctx)
	if err != nil {
		return nil, err
	}
	req := dex.SearchRequest{Index: keys.LatestRevs, Limit: opts.Limit}
	if opts.All {
		req.Index = keys.AllRevs
	}
	if q := strings.TrimSpace(opts.Query); q != "" {
		req.Query = dex.Parse(q)
	} else {
		req.SortBy = []string{keys.NameSort, keys.RevID}
	}
	docs := store.SearchMeta(ctx, req)
	if opts.Page > 0 {
		docs = store.SearchMetaPage(ctx, req, opts.Page, opts.PageLen)
	}
	var out []SearchHit
	for doc, err := range docs {
		if err != nil {
			return nil, err
		}
		h := SearchHit{
			Names:  doc.String(keys.Names),
			ItemID: doc.String(keys.ItemID),
			RevID:  doc.String(keys.RevID),
		}
		if t, ok := doc.Time(keys.MTime); ok {
			h.MTime = t
		}
		out = append(out, h)
	}
	return out, nil
}

type DestroyItemOptions struct {
	Name string
	// RevID destroys one revision. Empty destroys the whole item.
	RevID string
}

// DestroyItem removes revisions of an item from the backend and the
// indexes. It returns how many revisions were destroyed.
func (w *Wikidex) DestroyItem(ctx context.Context, opts DestroyItemOptions) (int, error) {
	it, err := w.existing(ctx, opts.Name)
	if err != nil {
		return 0, err
	}
	if opts.RevID != "" {
		if err := it.DestroyRevision(ctx, opts.RevID); err != nil {
			return 0, err
		}
		return 1, nil
	}
	n := 0
	for _, err := range it.IterRevisions(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	if err := it.DestroyAllRevisions(ctx); err != nil {
		return 0, err
	}
	return n, nil
}

// FormatTime renders a revision time for listings.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

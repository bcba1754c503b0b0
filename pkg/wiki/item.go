package wiki

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

// Item is a named object with a history of revisions. An Item that does not
// exist yet carries a placeholder document built from its lookup query, so
// its name is known before the first revision is stored.
type Item struct {
	s       *Storage
	name    string
	current dex.Document
}

func newItem(ctx context.Context, s *Storage, q Query, latest dex.Document) (*Item, error) {
	it := &Item{s: s, name: q[keys.NameExact]}
	if latest == nil {
		doc, ok, err := s.lookup(ctx, keys.LatestRevs, q)
		if err != nil {
			return nil, err
		}
		if !ok {
			doc = dex.Document{}
			for k, v := range q {
				if f, ok := dex.LatestRevsSchema.Field(k); ok && f.List {
					doc[k] = []string{v}
				} else {
					doc[k] = v
				}
			}
			if name, ok := q[keys.NameExact]; ok {
				doc[keys.Name] = []string{name}
			} else {
				doc[keys.Name] = []string{}
			}
			// an itemid query for a missing item must not make it exist
			delete(doc, keys.ItemID)
		}
		latest = doc
	}
	it.current = latest
	return it, nil
}

// Exists reports whether the item has at least one revision.
func (it *Item) Exists() bool { return it.ItemID() != "" }

func (it *Item) ItemID() string { return it.current.String(keys.ItemID) }

// Current returns the latest revisions document of the item.
func (it *Item) Current() dex.Document { return it.current }

// Names returns every name of the item.
func (it *Item) Names() []string { return it.current.Strings(keys.Name) }

// Name returns the name the item was looked up by when it is still one of
// its names, otherwise its first name.
func (it *Item) Name() string {
	names := it.Names()
	if it.name != "" && slices.Contains(names, it.name) {
		return it.name
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

func (it *Item) Namespace() string { return it.current.String(keys.Namespace) }

// FQName returns the name prefixed with the namespace.
func (it *Item) FQName() string {
	if ns := it.Namespace(); ns != "" {
		return ns + "/" + it.Name()
	}
	return it.Name()
}

// ParentNames returns the distinct parents of the hierarchical names of the
// item, sorted.
func (it *Item) ParentNames() []string {
	return parentNames(it.Names())
}

func parentNames(names []string) []string {
	seen := map[string]struct{}{}
	for _, n := range names {
		if i := strings.LastIndex(n, "/"); i >= 0 {
			seen[n[:i]] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// ParentIDs returns the item ids of the existing parent items.
func (it *Item) ParentIDs(ctx context.Context) ([]string, error) {
	var out []string
	for _, p := range it.ParentNames() {
		doc, ok, err := it.s.lookup(ctx, keys.LatestRevs, Query{keys.NameExact: p, keys.Namespace: it.Namespace()})
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc.String(keys.ItemID))
		}
	}
	return out, nil
}

func (it *Item) ACL() string { return it.current.String(keys.ACL) }

// MTime returns the modification time of the current revision in unix
// seconds.
func (it *Item) MTime() (int64, bool) {
	t, ok := it.current.Time(keys.MTime)
	if !ok {
		return 0, false
	}
	return t.Unix(), true
}

// refresh reloads the current document by item id.
func (it *Item) refresh(ctx context.Context) error {
	id := it.ItemID()
	if id == "" {
		return nil
	}
	doc, ok, err := it.s.lookup(ctx, keys.LatestRevs, Query{keys.ItemID: id})
	if err != nil {
		return err
	}
	if !ok {
		// every revision is gone; keep the names for display
		doc = dex.Document{keys.Name: it.Names(), keys.Namespace: it.Namespace()}
	}
	it.current = doc
	return nil
}

// IterRevisions yields every revision of the item in no particular order.
func (it *Item) IterRevisions(ctx context.Context) iter.Seq2[*Revision, error] {
	return func(yield func(*Revision, error) bool) {
		if !it.Exists() {
			return
		}
		req := dex.SearchRequest{Index: keys.AllRevs, Query: dex.Term(keys.ItemID, it.ItemID())}
		for h, err := range it.s.ix.Iter(ctx, req) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(newRevision(it, h.Doc, it.name), nil) {
				return
			}
		}
	}
}

// Revision returns the revision revID of the item, or its current revision
// for "current".
func (it *Item) Revision(ctx context.Context, revID string) (*Revision, error) {
	if revID == keys.CurrentRevID {
		if it.current.String(keys.RevID) == "" {
			return nil, &NoSuchRevisionError{ItemID: it.ItemID(), RevID: revID}
		}
		return newRevision(it, it.current, it.name), nil
	}
	q := Query{keys.RevID: revID}
	doc, ok, err := it.s.lookup(ctx, keys.AllRevs, q)
	if err == nil && !ok {
		// the write may still sit in the buffered writer
		if err = it.s.ix.Flush(ctx); err == nil {
			doc, ok, err = it.s.lookup(ctx, keys.AllRevs, q)
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NoSuchRevisionError{ItemID: it.ItemID(), RevID: revID}
	}
	return newRevision(it, doc, it.name), nil
}

// StoreOptions control StoreRevision.
type StoreOptions struct {
	// Overwrite allows replacing a stored revision with the same revid.
	// Overwritten revisions do not force themselves to be the latest.
	Overwrite bool
	// Trusted keeps the given mtime.
	Trusted            bool
	Name               string
	Action             string
	RemoteAddr         string
	UserID             string
	ContentTypeGuessed string
}

// StoreRevision validates meta, stores it with data in the backend and
// indexes the new revision. meta is not modified.
func (it *Item) StoreRevision(ctx context.Context, meta backend.Meta, data io.Reader, opts StoreOptions) (*Revision, error) {
	lg := log.FromContext(ctx)
	meta = meta.Clone()
	if meta == nil {
		meta = backend.Meta{}
	}
	name := opts.Name
	if name == "" {
		name = it.name
	}
	ns := it.Namespace()
	if v, ok := meta[keys.Namespace].(string); ok {
		ns = v
	}
	if !opts.Overwrite && !meta.Has(keys.RevNumber) {
		n, _ := it.current.Float(keys.RevNumber)
		meta[keys.RevNumber] = int64(n) + 1
	}
	st := State{
		Trusted:            opts.Trusted,
		Name:               name,
		Action:             opts.Action,
		Address:            opts.RemoteAddr,
		UserID:             opts.UserID,
		WikiName:           it.s.opts.WikiName,
		Namespace:          ns,
		ItemID:             it.ItemID(),
		ContentTypeGuessed: opts.ContentTypeGuessed,
		Now:                it.s.opts.Clock.Now(),
	}

	var buf []byte
	if data != nil {
		var err error
		if buf, err = io.ReadAll(data); err != nil {
			return nil, fmt.Errorf("read revision data: %w", err)
		}
	}
	issues := Validate(meta, st)
	if len(issues) == 0 {
		issues = ValidateData(meta, buf)
	}
	if len(issues) > 0 {
		verr := &ValidationError{RevID: meta.String(keys.RevID), ItemID: meta.String(keys.ItemID), Issues: issues}
		if it.s.opts.Validation == ValidationStrict {
			return nil, verr
		}
		for _, i := range issues {
			lg.Warn("invalid revision metadata",
				"revid", verr.RevID, "itemid", verr.ItemID, "field", i.Field, "value", i.Value, "reason", i.Reason)
		}
	}
	for k, v := range meta {
		if v == nil {
			delete(meta, k)
		}
	}
	if !meta.Has(keys.Summary) {
		meta[keys.Summary] = ""
	}

	if !opts.Overwrite {
		if revID := meta.String(keys.RevID); revID != "" {
			exists, err := it.s.be.Has(ctx, it.s.backendFor(meta.String(keys.Namespace)), revID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, fmt.Errorf("store revision %s: %w", revID, ErrOverwrite)
			}
		}
	}

	content := ""
	if conv := it.s.ix.Converter(); conv != nil {
		content = conv.ToIndexable(ctx, meta, bytes.NewReader(buf), true)
	}
	backendName, revID, err := it.s.be.Store(ctx, meta, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("store revision: %w", err)
	}
	meta[keys.RevID] = revID
	err = it.s.ix.IndexRevision(ctx, meta, content, backendName, dex.IndexOptions{
		Async:       true,
		ForceLatest: !opts.Overwrite,
	})
	if err != nil {
		return nil, fmt.Errorf("index revision %s: %w", revID, err)
	}
	lg.Debug("stored revision", "revid", revID, "itemid", meta.String(keys.ItemID),
		"backend", backendName, "overwrite", opts.Overwrite)

	itemID := meta.String(keys.ItemID)
	if !opts.Overwrite {
		doc, err := it.s.await(ctx, Query{keys.ItemID: itemID, keys.RevID: revID})
		if err != nil {
			return nil, err
		}
		it.current = doc
	} else {
		if !it.Exists() {
			it.current = dex.Document{keys.ItemID: itemID}
		}
		if err := it.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return it.Revision(ctx, revID)
}

// StoreAllRevisions overwrites every revision of the item with meta and
// data, keeping their revids.
func (it *Item) StoreAllRevisions(ctx context.Context, meta backend.Meta, data io.Reader, opts StoreOptions) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	revIDs, err := it.revIDs(ctx)
	if err != nil {
		return err
	}
	opts.Overwrite = true
	for _, revID := range revIDs {
		m := meta.Clone()
		m[keys.RevID] = revID
		if _, err := it.StoreRevision(ctx, m, bytes.NewReader(buf), opts); err != nil {
			return err
		}
	}
	return nil
}

func (it *Item) revIDs(ctx context.Context) ([]string, error) {
	var out []string
	for rev, err := range it.IterRevisions(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rev.RevID())
	}
	return out, nil
}

// DestroyRevision removes revID from the backend and the indexes. The
// payload is destroyed only when no other revision shares it. Revisions
// whose parent was revID are re-parented to its parent.
func (it *Item) DestroyRevision(ctx context.Context, revID string) error {
	rev, err := it.Revision(ctx, revID)
	if err != nil {
		return err
	}
	defer rev.Close()
	meta, err := rev.Meta().Map(ctx)
	if err != nil {
		return err
	}
	refs, err := it.s.ix.Count(ctx, keys.AllRevs, dex.Term(keys.DataID, meta.String(keys.DataID)))
	if err != nil {
		return err
	}
	if err := it.s.be.Remove(ctx, rev.BackendName(), revID, refs == 1); err != nil {
		return fmt.Errorf("destroy revision %s: %w", revID, err)
	}
	if err := it.s.ix.RemoveRevision(ctx, revID, false); err != nil {
		return err
	}
	log.FromContext(ctx).Info("destroyed revision", "revid", revID, "itemid", it.ItemID(), "data_destroyed", refs == 1)

	parent := meta.String(keys.ParentID)
	res, err := it.s.ix.Search(ctx, dex.SearchRequest{Index: keys.AllRevs, Query: dex.Term(keys.ParentID, revID)})
	if err != nil {
		return err
	}
	for _, h := range res.Hits {
		if err := it.rechain(ctx, newRevision(it, h.Doc, it.name), parent); err != nil {
			return err
		}
	}
	return it.refresh(ctx)
}

// rechain stores child over itself with parent as its new parent id.
func (it *Item) rechain(ctx context.Context, child *Revision, parent string) error {
	defer child.Close()
	meta, err := child.Meta().Map(ctx)
	if err != nil {
		return err
	}
	meta = meta.Clone()
	if parent != "" {
		meta[keys.ParentID] = parent
	} else {
		delete(meta, keys.ParentID)
	}
	data, err := child.Data(ctx)
	if err != nil {
		return err
	}
	_, err = it.StoreRevision(ctx, meta, data, StoreOptions{Overwrite: true, Trusted: true})
	return err
}

// DestroyAllRevisions removes every revision of the item.
func (it *Item) DestroyAllRevisions(ctx context.Context) error {
	revIDs, err := it.revIDs(ctx)
	if err != nil {
		return err
	}
	for _, revID := range revIDs {
		if err := it.DestroyRevision(ctx, revID); err != nil {
			return err
		}
	}
	return nil
}

package dex_test

import (
	"bytes"
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/convert"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

// FixtureOption modifies a Fixture during construction.
type FixtureOption func(o *dex.Options)

func WithWriterTimeout(timeout, retry time.Duration) FixtureOption {
	return func(o *dex.Options) {
		o.WriterTimeout = timeout
		o.WriterRetry = retry
	}
}

// Fixture bundles an opened memory backend and an opened indexer over a
// temporary directory.
type Fixture struct {
	t *testing.T

	ctx     context.Context
	logger  *log.TestHandler
	backend *backend.Router
	ix      *dex.Indexer
	dir     string
}

func NewFixture(t *testing.T, opts ...FixtureOption) *Fixture {
	t.Helper()
	lg, handler := log.NewTestLogger(nil)
	ctx := log.ContextWithLogger(context.Background(), lg)

	kv, err := backend.NewKV(backend.NewMemoryStore())
	require.NoError(t, err)
	be := backend.NewSingle("default", kv)
	require.NoError(t, be.Create(ctx))
	require.NoError(t, be.Open(ctx))

	dir := filepath.Join(t.TempDir(), "index")
	o := dex.Options{
		Dir:       dir,
		WikiName:  "TestWiki",
		Backend:   be,
		Converter: convert.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	ix := dex.New(o)
	require.NoError(t, ix.Create(ctx, dex.CreateOptions{}))
	require.NoError(t, ix.Open(ctx))

	f := &Fixture{t: t, ctx: ctx, logger: handler, backend: be, ix: ix, dir: dir}
	t.Cleanup(func() {
		_ = ix.Close()
		_ = be.Close()
	})
	return f
}

// Store writes a revision of itemID to the backend and returns its meta.
func (f *Fixture) Store(itemID, name string, mtime int64, content string) backend.Meta {
	f.t.Helper()
	meta := backend.Meta{
		keys.ItemID:      itemID,
		keys.Name:        []string{name},
		keys.Namespace:   "",
		keys.MTime:       mtime,
		keys.ContentType: keys.ContentTypeDefault,
	}
	_, _, err := f.backend.Store(f.ctx, meta, bytes.NewReader([]byte(content)))
	require.NoError(f.t, err)
	return meta
}

// Put stores a revision and indexes it.
func (f *Fixture) Put(itemID, name string, mtime int64, content string, forceLatest bool) string {
	f.t.Helper()
	meta := f.Store(itemID, name, mtime, content)
	err := f.ix.IndexRevision(f.ctx, meta, content, meta.String(keys.BackendName),
		dex.IndexOptions{ForceLatest: forceLatest})
	require.NoError(f.t, err)
	return meta.String(keys.RevID)
}

// Latest returns the revid the latest index holds for itemID.
func (f *Fixture) Latest(itemID string) (string, bool) {
	f.t.Helper()
	doc, ok, err := f.ix.Document(f.ctx, keys.LatestRevs, dex.Term(keys.ItemID, itemID))
	require.NoError(f.t, err)
	if !ok {
		return "", false
	}
	return doc.String(keys.RevID), true
}

// AllRevIDs returns the sorted revids of the all revisions index.
func (f *Fixture) AllRevIDs() []string {
	f.t.Helper()
	return f.revIDs(keys.AllRevs, nil)
}

func (f *Fixture) revIDs(index string, q dex.Query) []string {
	f.t.Helper()
	res, err := f.ix.Search(f.ctx, dex.SearchRequest{Index: index, Query: q, Fields: []string{keys.RevID}})
	require.NoError(f.t, err)
	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.Doc.String(keys.RevID))
	}
	slices.Sort(out)
	return out
}

// BackendRevIDs returns the sorted revids the backend holds.
func (f *Fixture) BackendRevIDs() []string {
	f.t.Helper()
	refs, err := backend.CollectRevisions(f.ctx, f.backend)
	require.NoError(f.t, err)
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.RevID)
	}
	slices.Sort(out)
	return out
}

func sorted(ids ...string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}

// Remove deletes a revision from the backend without touching the indexes.
func (f *Fixture) Remove(revID string) {
	f.t.Helper()
	require.NoError(f.t, f.backend.Remove(f.ctx, "default", revID, true))
}

// Close releases the indexer and backend before the test ends.
func (f *Fixture) Close() {
	_ = f.ix.Close()
	_ = f.backend.Close()
}

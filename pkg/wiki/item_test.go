package wiki_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

func TestMissingItemIsPlaceholder(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)

	it := f.Item("Home")
	require.False(t, it.Exists())
	require.Equal(t, "Home", it.Name())
	require.Equal(t, []string{"Home"}, it.Names())
	require.Empty(t, it.ItemID())

	_, err := it.Revision(f.ctx, keys.CurrentRevID)
	require.ErrorIs(t, err, wiki.ErrNotExist)

	n := 0
	for range it.IterRevisions(f.ctx) {
		n++
	}
	require.Zero(t, n)
}

func TestStoreRevisionCreatesItem(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)

	r1 := f.Save("Home", "first", nil)
	it := f.Item("Home")
	require.True(t, it.Exists())
	require.Len(t, it.ItemID(), keys.UUIDLen)

	cur, err := it.Revision(f.ctx, keys.CurrentRevID)
	require.NoError(t, err)
	require.Equal(t, r1.RevID(), cur.RevID())
	require.Equal(t, "default", cur.BackendName())
	require.Equal(t, "first", f.ReadData(cur))
	require.NoError(t, cur.Close())

	r2 := f.Save("Home", "second", nil)
	it = f.Item("Home")
	cur, err = it.Revision(f.ctx, keys.CurrentRevID)
	require.NoError(t, err)
	require.Equal(t, r2.RevID(), cur.RevID())

	n, _, err := cur.Meta().Get(f.ctx, keys.RevNumber)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	var revs []string
	for rev, err := range it.IterRevisions(f.ctx) {
		require.NoError(t, err)
		revs = append(revs, rev.RevID())
	}
	require.ElementsMatch(t, []string{r1.RevID(), r2.RevID()}, revs)
}

func TestMetaServesCommonFieldsFromIndex(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	f.Save("Home", "text", backend.Meta{keys.Summary: "hi"})

	cur, err := f.Item("Home").Revision(f.ctx, keys.CurrentRevID)
	require.NoError(t, err)
	meta := cur.Meta()

	mtime, ok, err := meta.Get(f.ctx, keys.MTime)
	require.NoError(t, err)
	require.True(t, ok)
	require.IsType(t, int64(0), mtime)
	summary, err := meta.String(f.ctx, keys.Summary)
	require.NoError(t, err)
	require.Equal(t, "hi", summary)
	require.False(t, meta.Loaded(), "common fields do not touch the backend")

	sum, err := meta.String(f.ctx, keys.HashAlgorithm)
	require.NoError(t, err)
	require.Len(t, sum, keys.HashLen)
	require.True(t, meta.Loaded())

	ks, err := meta.Keys(f.ctx)
	require.NoError(t, err)
	require.Contains(t, ks, keys.DataID)
	require.NoError(t, cur.Close())
}

func TestStrictValidationKeepsBackendClean(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)

	_, err := f.Item("Home").StoreRevision(f.ctx, backend.Meta{keys.Tags: []string{" spaced"}},
		bytes.NewReader([]byte("x")), wiki.StoreOptions{})
	require.ErrorIs(t, err, wiki.ErrInvalid)
	var verr *wiki.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{keys.Tags}, verr.Fields())
	require.Empty(t, f.BackendRevIDs())
}

func TestWarnValidationLogsAndStores(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, WithValidation(wiki.ValidationWarn))

	rev, err := f.Item("Home").StoreRevision(f.ctx, backend.Meta{keys.Tags: []string{" spaced"}},
		bytes.NewReader([]byte("x")), wiki.StoreOptions{})
	require.NoError(t, err)
	entries := log.FindEntries(f.logs, func(e log.LoggedEntry) bool {
		return e.Msg == "invalid revision metadata" && e.Attrs["field"] == keys.Tags
	})
	require.Len(t, entries, 1)
	require.Equal(t, rev.Item().ItemID(), entries[0].Attrs["itemid"])
}

func TestStoreRevisionNeedsOverwriteForExistingRevID(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	rev := f.Save("Home", "v1", nil)

	meta := backend.Meta{keys.RevID: rev.RevID(), keys.ContentType: keys.ContentTypeDefault}
	it := f.Item("Home")
	_, err := it.StoreRevision(f.ctx, meta, bytes.NewReader([]byte("v2")), wiki.StoreOptions{})
	require.ErrorIs(t, err, wiki.ErrOverwrite)

	over, err := it.StoreRevision(f.ctx, meta, bytes.NewReader([]byte("v2")), wiki.StoreOptions{Overwrite: true})
	require.NoError(t, err)
	require.Equal(t, rev.RevID(), over.RevID())
	require.Equal(t, "v2", f.ReadData(over))
	require.Equal(t, []string{rev.RevID()}, f.BackendRevIDs())

	cur, err := f.Item("Home").Revision(f.ctx, keys.CurrentRevID)
	require.NoError(t, err)
	require.Equal(t, rev.RevID(), cur.RevID())
	require.Equal(t, "v2", cur.Doc().String(keys.Content))
}

func TestGetItemByIDAndExistence(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	f.Save("Home", "x", nil)
	id := f.Item("Home").ItemID()

	byID := f.Item(wiki.ItemIDPrefix + id)
	require.True(t, byID.Exists())
	require.Equal(t, "Home", byID.Name())

	missing := f.Item(wiki.ItemIDPrefix + backend.NewID())
	require.False(t, missing.Exists())

	_, err := f.wiki.CreateItem(f.ctx, wiki.Query{keys.ItemID: id})
	var exists *wiki.ItemAlreadyExistsError
	require.ErrorAs(t, err, &exists)
	require.ErrorIs(t, err, wiki.ErrExist)

	_, err = f.wiki.ExistingItem(f.ctx, wiki.Query{keys.NameExact: "Nope", keys.Namespace: ""})
	require.ErrorIs(t, err, wiki.ErrNotExist)

	ok, err := f.wiki.HasItem(f.ctx, "Home")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNamespacedItems(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	rev := f.Save("users/Jane", "profile", nil)
	require.Equal(t, "users", rev.BackendName())

	it := f.Item("users/Jane")
	require.True(t, it.Exists())
	require.Equal(t, "users", it.Namespace())
	require.Equal(t, "Jane", it.Name())
	require.Equal(t, "users/Jane", it.FQName())

	require.False(t, f.Item("Jane").Exists(), "the default namespace has no Jane")
}

func TestParentNames(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	f.Save("Projects", "root", nil)
	rev := f.Save("Projects/Wiki", "child", backend.Meta{keys.Name: []string{"Projects/Wiki", "Archive/Old/Wiki"}})

	it := rev.Item()
	require.Equal(t, []string{"Archive/Old", "Projects"}, it.ParentNames())
	ids, err := it.ParentIDs(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{f.Item("Projects").ItemID()}, ids)
}

func TestDestroyRevisionRechainsChildren(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	r1 := f.Save("Home", "one", nil)
	r2 := f.Save("Home", "two", backend.Meta{keys.ParentID: r1.RevID()})
	r3 := f.Save("Home", "three", backend.Meta{keys.ParentID: r2.RevID()})

	it := f.Item("Home")
	require.NoError(t, it.DestroyRevision(f.ctx, r2.RevID()))
	require.ElementsMatch(t, []string{r1.RevID(), r3.RevID()}, f.BackendRevIDs())

	child, err := it.Revision(f.ctx, r3.RevID())
	require.NoError(t, err)
	parent, err := child.Meta().String(f.ctx, keys.ParentID)
	require.NoError(t, err)
	require.Equal(t, r1.RevID(), parent)
	require.Equal(t, "three", f.ReadData(child))
	require.NoError(t, child.Close())

	cur, err := it.Revision(f.ctx, keys.CurrentRevID)
	require.NoError(t, err)
	require.Equal(t, r3.RevID(), cur.RevID())

	require.NoError(t, it.DestroyRevision(f.ctx, r1.RevID()))
	child, err = it.Revision(f.ctx, r3.RevID())
	require.NoError(t, err)
	_, ok, err := child.Meta().Get(f.ctx, keys.ParentID)
	require.NoError(t, err)
	require.False(t, ok, "the root revision leaves its child without a parent")
	require.NoError(t, child.Close())
}

func TestDestroyRevisionKeepsSharedData(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	r1 := f.Save("Home", "shared", nil)
	first, err := r1.Meta().Map(f.ctx)
	require.NoError(t, err)
	require.NoError(t, r1.Close())

	copied := backend.Meta{
		keys.DataID:        first[keys.DataID],
		keys.Size:          first[keys.Size],
		keys.HashAlgorithm: first[keys.HashAlgorithm],
		keys.ContentType:   keys.ContentTypeDefault,
	}
	r2, err := f.Item("Home").StoreRevision(f.ctx, copied, nil, wiki.StoreOptions{})
	require.NoError(t, err)

	it := f.Item("Home")
	require.NoError(t, it.DestroyRevision(f.ctx, r1.RevID()))
	survivor, err := it.Revision(f.ctx, r2.RevID())
	require.NoError(t, err)
	require.Equal(t, "shared", f.ReadData(survivor))
	require.NoError(t, survivor.Close())
}

func TestDestroyAllRevisions(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	f.Save("Home", "one", nil)
	f.Save("Home", "two", nil)
	f.Save("Other", "keep", nil)

	it := f.Item("Home")
	require.NoError(t, it.DestroyAllRevisions(f.ctx))
	require.False(t, it.Exists())
	require.False(t, f.Item("Home").Exists())
	require.True(t, f.Item("Other").Exists())
	require.Len(t, f.BackendRevIDs(), 1)
}

func TestStoreAllRevisions(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	f.Save("Home", "one", nil)
	f.Save("Home", "two", nil)

	it := f.Item("Home")
	meta := backend.Meta{keys.Name: []string{"Home"}, keys.ContentType: keys.ContentTypeDefault, keys.Comment: "scrubbed"}
	require.NoError(t, it.StoreAllRevisions(f.ctx, meta, bytes.NewReader([]byte("redacted")), wiki.StoreOptions{}))

	for rev, err := range it.IterRevisions(f.ctx) {
		require.NoError(t, err)
		require.Equal(t, "redacted", f.ReadData(rev))
		comment, err := rev.Meta().String(f.ctx, keys.Comment)
		require.NoError(t, err)
		require.Equal(t, "scrubbed", comment)
		require.NoError(t, rev.Close())
	}
	require.Len(t, f.BackendRevIDs(), 2)
}

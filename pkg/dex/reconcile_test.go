package dex_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
)

func TestUpdateRemovesRevisionsGoneFromBackend(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	item := backend.NewID()
	r1 := f.Put(item, "foo", 1, "first", true)
	r2 := f.Put(item, "foo", 2, "second", true)

	f.Remove(r2)
	changed, stats, err := f.ix.Update(f.ctx, dex.UpdateOptions{})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, stats.Removed)
	require.Equal(t, 1, stats.LatestUpdated)

	require.Equal(t, []string{r1}, f.AllRevIDs())
	latest, ok := f.Latest(item)
	require.True(t, ok)
	require.Equal(t, r1, latest)

	changed, stats, err = f.ix.Update(f.ctx, dex.UpdateOptions{})
	require.NoError(t, err)
	require.False(t, changed, "second update finds nothing to do: %+v", stats)
}

func TestUpdateAddsUnindexedRevisions(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	item := backend.NewID()
	r1 := f.Put(item, "foo", 1, "first", true)
	r2 := f.Store(item, "foo", 2, "second").String(keys.RevID)
	other := f.Store(backend.NewID(), "bar", 1, "other").String(keys.RevID)

	changed, stats, err := f.ix.Update(f.ctx, dex.UpdateOptions{})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 2, stats.Added)
	require.Equal(t, 0, stats.Removed)
	require.Equal(t, sorted(r1, r2, other), f.AllRevIDs())

	latest, _ := f.Latest(item)
	require.Equal(t, r2, latest)

	doc, ok, err := f.ix.Document(f.ctx, keys.LatestRevs, dex.Term(keys.RevID, r2))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "second", doc.String(keys.Content), "update converts the revision data")
}

func TestUpdateDropsItemsWithoutRevisions(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	item := backend.NewID()
	r1 := f.Put(item, "foo", 1, "only", true)
	f.Remove(r1)

	_, stats, err := f.ix.Update(f.ctx, dex.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.LatestRemoved)
	_, ok := f.Latest(item)
	require.False(t, ok)
}

func TestRebuildMoveUpdateMatchesBackend(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	items := []string{backend.NewID(), backend.NewID(), backend.NewID()}
	for i, item := range items {
		f.Put(item, "page", int64(i+1), "a", true)
		f.Put(item, "page", int64(i+10), "b", true)
	}

	require.NoError(t, f.ix.Create(f.ctx, dex.CreateOptions{Tmp: true}))
	stats, err := f.ix.Rebuild(f.ctx, dex.RebuildOptions{Tmp: true, Procs: 2})
	require.NoError(t, err)
	require.Equal(t, 6, stats.Revisions)
	require.Equal(t, 3, stats.Latest)

	// a write that lands on the live generation after the rebuild started
	late := f.Put(items[0], "page", 100, "late", true)

	require.NoError(t, f.ix.Close())
	require.NoError(t, f.ix.Move(f.ctx))
	require.False(t, f.ix.Storage().Exists(true), "staging is consumed by move")
	require.NoError(t, f.ix.Open(f.ctx))

	changed, _, err := f.ix.Update(f.ctx, dex.UpdateOptions{})
	require.NoError(t, err)
	require.True(t, changed)

	require.Equal(t, f.BackendRevIDs(), f.AllRevIDs())
	latest, _ := f.Latest(items[0])
	require.Equal(t, late, latest)

	refs, err := f.ix.FindLatest(f.ctx, nil)
	require.NoError(t, err)
	want := make([]string, 0, len(refs))
	for _, r := range refs {
		want = append(want, r.RevID)
	}
	require.Equal(t, sorted(want...), f.revIDs(keys.LatestRevs, nil))
}

func TestRebuildLiveGeneration(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	f.Store(backend.NewID(), "a", 1, "x")
	f.Store(backend.NewID(), "b", 1, "y")

	stats, err := f.ix.Rebuild(f.ctx, dex.RebuildOptions{})
	require.NoError(t, err)
	require.Equal(t, dex.RebuildStats{Revisions: 2, Latest: 2}, stats)
	require.Equal(t, f.BackendRevIDs(), f.AllRevIDs())
}

func TestOptimizeKeepsContents(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	item := backend.NewID()
	f.Put(item, "foo", 1, "first", true)
	r2 := f.Put(item, "foo", 2, "second", true)

	require.NoError(t, f.ix.Optimize(f.ctx))
	require.True(t, f.ix.IsOpen())
	require.False(t, f.ix.Storage().Exists(true))
	require.Equal(t, f.BackendRevIDs(), f.AllRevIDs())
	latest, _ := f.Latest(item)
	require.Equal(t, r2, latest)
}

func TestUpdateStagingWithoutLiveIndexer(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	rev := f.Store(backend.NewID(), "foo", 1, "x").String(keys.RevID)
	require.NoError(t, f.ix.Create(f.ctx, dex.CreateOptions{Tmp: true}))

	changed, stats, err := f.ix.Update(f.ctx, dex.UpdateOptions{Tmp: true})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, stats.Added)
	require.Empty(t, f.AllRevIDs(), "the live generation is untouched")

	var dumped []string
	for fields, err := range f.ix.Dump(f.ctx, dex.DumpOptions{Tmp: true}) {
		require.NoError(t, err)
		for _, fld := range fields {
			if fld.Name == keys.RevID {
				dumped = append(dumped, fld.Value.(string))
			}
		}
	}
	require.Equal(t, []string{rev}, dumped)
}

package wiki_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

func seed(f *Fixture) {
	f.t.Helper()
	f.Save("Apple", "red fruit", backend.Meta{keys.Tags: []string{"fruit"}})
	f.Save("Apricot", "orange fruit", backend.Meta{keys.Tags: []string{"fruit"}})
	f.Save("Apricot", "orange fruit, revised", backend.Meta{keys.Tags: []string{"fruit"}})
	f.Save("Carrot", "orange root", backend.Meta{keys.Tags: []string{"vegetable"}})
}

func TestSearchYieldsLatestRevisions(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	seed(f)

	var names []string
	req := dex.SearchRequest{Query: dex.Term(keys.Tags, "fruit"), SortBy: []string{keys.NameSort}}
	for rev, err := range f.wiki.Search(f.ctx, req) {
		require.NoError(t, err)
		require.True(t, rev.Item().Exists())
		names = append(names, rev.Name())
	}
	require.Equal(t, []string{"Apple", "Apricot"}, names)

	count, err := f.wiki.SearchResultsSize(f.ctx, "", dex.Term(keys.Tags, "fruit"))
	require.NoError(t, err)
	require.Equal(t, uint64(3), count, "the default counts every revision")
}

func TestSearchAllRevisionsBuildsItems(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	seed(f)

	req := dex.SearchRequest{Index: keys.AllRevs, Query: dex.Match(keys.Content, "orange")}
	n := 0
	for rev, err := range f.wiki.Search(f.ctx, req) {
		require.NoError(t, err)
		require.Contains(t, []string{"Apricot", "Carrot"}, rev.Item().Name())
		n++
	}
	require.Equal(t, 3, n)
}

func TestSearchPages(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	seed(f)

	page := func(p int) []string {
		var out []string
		req := dex.SearchRequest{SortBy: []string{keys.NameSort}}
		for doc, err := range f.wiki.SearchMetaPage(f.ctx, req, p, 2) {
			require.NoError(t, err)
			out = append(out, doc.String(keys.Names))
		}
		return out
	}
	require.Equal(t, []string{"Apple", "Apricot"}, page(1))
	require.Equal(t, []string{"Carrot"}, page(2))
	require.Empty(t, page(3))

	var revs []string
	for rev, err := range f.wiki.SearchPage(f.ctx, dex.SearchRequest{SortBy: []string{keys.NameSort}}, 0, 1) {
		require.NoError(t, err)
		revs = append(revs, rev.Name())
	}
	require.Equal(t, []string{"Apple"}, revs, "page numbers below one select the first page")
}

func TestDocuments(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	seed(f)
	id := f.Item("Apricot").ItemID()

	n := 0
	for rev, err := range f.wiki.Documents(f.ctx, keys.AllRevs, wiki.Query{keys.ItemID: id}) {
		require.NoError(t, err)
		require.Equal(t, id, rev.Item().ItemID())
		n++
	}
	require.Equal(t, 2, n)

	rev, ok, err := f.wiki.Document(f.ctx, "", wiki.Query{keys.NameExact: "Carrot"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "orange root", rev.Doc().String(keys.Content))

	_, ok, err = f.wiki.Document(f.ctx, "", wiki.Query{keys.NameExact: "Durian"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSearchNames(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)
	seed(f)

	names, err := f.wiki.SearchNames(f.ctx, "Ap", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Apple", "Apricot"}, names)

	names, err = f.wiki.SearchNames(f.ctx, "Ap", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"Apple"}, names)
}

package dex_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
)

type modelRev struct {
	item  string
	revID string
	mtime int64
}

// winner picks the revision with the largest mtime, ties to the smallest
// revid.
func winner(revs []modelRev, item string) (string, bool) {
	best := modelRev{}
	for _, r := range revs {
		if r.item != item {
			continue
		}
		if best.revID == "" || r.mtime > best.mtime || (r.mtime == best.mtime && r.revID < best.revID) {
			best = r
		}
	}
	return best.revID, best.revID != ""
}

func TestRapidLatestTracksNewestRevision(t *testing.T) {
	t.Parallel()
	items := []string{backend.NewID(), backend.NewID(), backend.NewID()}

	rapid.Check(t, func(rt *rapid.T) {
		f := NewFixture(t)
		defer f.Close()
		var revs []modelRev

		rt.Repeat(map[string]func(*rapid.T){
			"put": func(rt *rapid.T) {
				item := rapid.SampledFrom(items).Draw(rt, "item")
				mtime := rapid.Int64Range(1, 5).Draw(rt, "mtime")
				meta := f.Store(item, "page", mtime, "text")
				err := f.ix.IndexRevision(f.ctx, meta, "text", "default", dex.IndexOptions{})
				require.NoError(rt, err)
				revs = append(revs, modelRev{item: item, revID: meta.String(keys.RevID), mtime: mtime})
			},
			"remove": func(rt *rapid.T) {
				if len(revs) == 0 {
					rt.Skip("nothing to remove")
				}
				i := rapid.IntRange(0, len(revs)-1).Draw(rt, "rev")
				f.Remove(revs[i].revID)
				require.NoError(rt, f.ix.RemoveRevision(f.ctx, revs[i].revID, false))
				revs = slices.Delete(revs, i, i+1)
			},
			"": func(rt *rapid.T) {
				for _, item := range items {
					want, wantOK := winner(revs, item)
					got, ok := f.Latest(item)
					require.Equal(rt, wantOK, ok, "item %s", item)
					require.Equal(rt, want, got, "item %s", item)
				}
			},
		})

		require.Equal(rt, f.BackendRevIDs(), f.AllRevIDs())
		changed, stats, err := f.ix.Update(f.ctx, dex.UpdateOptions{})
		require.NoError(rt, err)
		require.False(rt, changed, "indexes already match the backend: %+v", stats)
	})
}

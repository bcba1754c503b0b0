package wikidex_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/wiki"
	"github.com/jlrickert/wikidex/pkg/wikidex"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Namespaces = nil
	_, err := wikidex.New(wikidex.Options{Config: cfg})
	require.ErrorIs(t, err, config.ErrInvalid)

	_, err = wikidex.New(wikidex.Options{ConfigPath: filepath.Join(t.TempDir(), config.FileName)})
	require.ErrorIs(t, err, config.ErrNotExist)

	// Relative paths resolve against the runtime's working directory.
	_, err = wikidex.New(wikidex.Options{Runtime: NewRuntime(t)})
	require.ErrorIs(t, err, config.ErrNotExist)
}

func TestPutGetHistory(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)

	first := f.Put("Home", "hello")
	second := f.Put("Home", "hello again")
	require.Equal(t, int64(1), first.RevNumber)
	require.Equal(t, int64(2), second.RevNumber)
	require.Equal(t, first.ItemID, second.ItemID)
	require.Equal(t, "hello again", f.Get("Home"))

	var buf bytes.Buffer
	require.NoError(t, f.w.Get(f.ctx, wikidex.GetOptions{Name: "Home", RevID: first.RevID}, &buf))
	require.Equal(t, "hello", buf.String())

	entries, err := f.w.History(f.ctx, wikidex.HistoryOptions{Name: "Home"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, second.RevID, entries[0].RevID)
	require.True(t, entries[0].Current)
	require.Equal(t, int64(2), entries[0].RevNumber)
	require.Equal(t, first.RevID, entries[1].RevID)
	require.False(t, entries[1].Current)
	require.Equal(t, "edit Home", entries[1].Comment)
	require.Equal(t, int64(len("hello")), entries[1].Size)

	limited, err := f.w.History(f.ctx, wikidex.HistoryOptions{Name: "Home", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestGetMeta(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	res := f.Put("users/Jane", "profile", "people")

	var buf bytes.Buffer
	require.NoError(t, f.w.Get(f.ctx, wikidex.GetOptions{Name: "users/Jane", Meta: true}, &buf))
	out := buf.String()
	require.Contains(t, out, "itemid: "+res.ItemID)
	require.Contains(t, out, "namespace: users")
	require.Contains(t, out, "- Jane")
	require.Contains(t, out, "- people")
}

func TestGetMissingItem(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	var buf bytes.Buffer
	err := f.w.Get(f.ctx, wikidex.GetOptions{Name: "Nowhere"}, &buf)
	require.ErrorIs(t, err, wiki.ErrNotExist)

	f.Put("Home", "x")
	err = f.w.Get(f.ctx, wikidex.GetOptions{Name: "Home", RevID: backend.NewID()}, &buf)
	require.ErrorIs(t, err, wiki.ErrNotExist)
}

func TestPutRequiresName(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	_, err := f.w.Put(f.ctx, wikidex.PutOptions{Name: " ", Data: strings.NewReader("x")})
	require.ErrorIs(t, err, wiki.ErrInvalid)
}

func TestSearch(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	f.Put("Carrot", "orange root", "vegetable")
	f.Put("Apple", "red fruit", "fruit")
	f.Put("Apple", "green fruit", "fruit")
	f.Put("users/Jane", "profile")

	require.Equal(t, []string{"Apple", "Carrot", "users/Jane"}, f.Names(wikidex.SearchOptions{}))
	require.Equal(t, []string{"Apple"}, f.Names(wikidex.SearchOptions{Query: "+tags:fruit"}))
	require.Equal(t, []string{"Carrot"}, f.Names(wikidex.SearchOptions{Query: "content:orange"}))
	require.Len(t, f.Names(wikidex.SearchOptions{All: true}), 4)
	require.Len(t, f.Names(wikidex.SearchOptions{Query: "+tags:fruit", All: true}), 2)

	require.Equal(t, []string{"Carrot"}, f.Names(wikidex.SearchOptions{Page: 2, PageLen: 1}))
	require.Len(t, f.Names(wikidex.SearchOptions{Limit: 2}), 2)
}

func TestDestroyItem(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	f.Put("Home", "one")
	second := f.Put("Home", "two")

	n, err := f.w.DestroyItem(f.ctx, wikidex.DestroyItemOptions{Name: "Home", RevID: second.RevID})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "one", f.Get("Home"))

	f.Put("Home", "three")
	n, err = f.w.DestroyItem(f.ctx, wikidex.DestroyItemOptions{Name: "Home"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var buf bytes.Buffer
	require.ErrorIs(t, f.w.Get(f.ctx, wikidex.GetOptions{Name: "Home"}, &buf), wiki.ErrNotExist)
	require.Empty(t, f.Names(wikidex.SearchOptions{All: true}))
}

func TestRebuildAndDump(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverBolt)
	f.Put("Home", "one")
	f.Put("Home", "two")
	f.Put("users/Jane", "profile")

	out, err := f.w.Rebuild(f.ctx, wikidex.RebuildOptions{Procs: 2})
	require.NoError(t, err)
	require.Contains(t, out, "Indexed 3 revisions of 2 items")
	require.Contains(t, out, "Indexes are up to date")
	require.Equal(t, "two", f.Get("Home"))
	require.Equal(t, []string{"Home", "users/Jane"}, f.Names(wikidex.SearchOptions{}))

	var buf bytes.Buffer
	n, err := f.w.Dump(f.ctx, wikidex.DumpOptions{Index: keys.LatestRevs}, &buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Contains(t, buf.String(), "name: [Home]")
	require.Contains(t, buf.String(), "content: two")
	require.Contains(t, buf.String(), "wikiname: TestWiki")

	buf.Reset()
	n, err = f.w.Dump(f.ctx, wikidex.DumpOptions{}, &buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRebuildNoMoveStagesIndexes(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	f.Put("Home", "one")

	out, err := f.w.Rebuild(f.ctx, wikidex.RebuildOptions{NoMove: true})
	require.NoError(t, err)
	require.Contains(t, out, "Staged indexes at")
	_, err = os.Stat(f.cfg.IndexPath() + dex.StagingSuffix)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := f.w.Dump(f.ctx, wikidex.DumpOptions{Tmp: true}, &buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.w.Move(f.ctx)
	require.NoError(t, err)
	require.Equal(t, "one", f.Get("Home"))
}

func TestUpdatePicksUpBackendWrites(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	f.Put("Home", "indexed")

	be, err := f.w.Backend(f.ctx)
	require.NoError(t, err)
	_, _, err = be.Store(f.ctx, backend.Meta{
		keys.ItemID:      backend.NewID(),
		keys.Name:        []string{"Orphan"},
		keys.Namespace:   "",
		keys.MTime:       int64(1_600_000_100),
		keys.ContentType: keys.ContentTypeDefault,
	}, strings.NewReader("not indexed yet"))
	require.NoError(t, err)

	stats, err := f.w.Update(f.ctx, wikidex.UpdateOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Added)
	require.Equal(t, 1, stats.LatestUpdated)
	require.Equal(t, "not indexed yet", f.Get("Orphan"))

	stats, err = f.w.Update(f.ctx, wikidex.UpdateOptions{})
	require.NoError(t, err)
	require.False(t, stats.Changed())
	require.Equal(t, "Indexes are up to date\n", wikidex.FormatUpdate(stats))
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	src := NewFixture(t, config.DriverBolt)
	src.Put("Home", "one")
	src.Put("Home", "two")
	src.Put("users/Jane", "profile")

	var buf bytes.Buffer
	n, err := src.w.Save(src.ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	dst := NewFixture(t, config.DriverBolt)
	n, stats, err := dst.w.Load(dst.ctx, &buf, wikidex.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, stats.Added)
	require.Equal(t, 2, stats.LatestUpdated)
	require.Equal(t, "two", dst.Get("Home"))
	require.Equal(t, "profile", dst.Get("users/Jane"))
	require.Equal(t, src.Names(wikidex.SearchOptions{}), dst.Names(wikidex.SearchOptions{}))
}

func TestDestroyBackend(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverBolt)
	f.Put("Home", "one")

	out, err := f.w.Destroy(f.ctx, wikidex.DestroyOptions{Backend: true})
	require.NoError(t, err)
	require.Contains(t, out, "Destroyed backend")
	_, err = os.Stat(f.cfg.IndexPath())
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(f.cfg.PartitionPath("default"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOptimize(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverBolt)
	f.Put("Home", "one")
	f.Put("Other", "two")

	out, err := f.w.Optimize(f.ctx, wikidex.OptimizeOptions{Backend: true})
	require.NoError(t, err)
	require.Contains(t, out, "Optimized backend")
	require.Equal(t, []string{"Home", "Other"}, f.Names(wikidex.SearchOptions{}))
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	f.Put("Home", "one")

	var buf bytes.Buffer
	require.NoError(t, f.w.Metrics(f.ctx, &buf))
	require.Contains(t, buf.String(), "wikidex_dex_index_writes")
	require.Contains(t, buf.String(), "go_goroutines")
}

func TestWatchUpdatesOnBackendChange(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverBolt)
	require.NoError(t, f.w.Close(), "the watcher must not hold the backend lock")

	ctx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	updates := make(chan dex.UpdateStats, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.w.Watch(ctx, wikidex.WatchOptions{
			Debounce: 50 * time.Millisecond,
			OnUpdate: func(s dex.UpdateStats, err error) {
				if err == nil {
					updates <- s
				} else {
					updates <- dex.UpdateStats{}
				}
			},
		})
	}()
	f.RequireLog("watching backend")

	// a second process writing to the backend without indexing
	other, err := wikidex.New(wikidex.Options{Config: f.cfg, Runtime: NewRuntime(t)})
	require.NoError(t, err)
	be, err := other.Backend(f.ctx)
	require.NoError(t, err)
	_, _, err = be.Store(f.ctx, backend.Meta{
		keys.ItemID:      backend.NewID(),
		keys.Name:        []string{"Remote"},
		keys.Namespace:   "",
		keys.MTime:       int64(1_600_000_100),
		keys.ContentType: keys.ContentTypeDefault,
	}, strings.NewReader("written elsewhere"))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	poke := filepath.Join(filepath.Dir(f.cfg.PartitionPath("default")), "poke")
	deadline := time.After(10 * time.Second)
	added := 0
	for added == 0 {
		select {
		case s := <-updates:
			added += s.Added
			if added == 0 {
				// the update may have raced the writer for the file lock
				time.Sleep(100 * time.Millisecond)
				require.NoError(t, os.WriteFile(poke, []byte(time.Now().String()), 0o644))
			}
		case <-deadline:
			t.Fatal("watch did not pick up the backend write")
		}
	}
	require.Equal(t, 1, added)

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, "written elsewhere", f.Get("Remote"))
}

func TestWatchNeedsOnDiskBackend(t *testing.T) {
	t.Parallel()
	f := NewFixture(t, config.DriverMemory)
	err := f.w.Watch(f.ctx, wikidex.WatchOptions{})
	require.ErrorIs(t, err, config.ErrInvalid)
}

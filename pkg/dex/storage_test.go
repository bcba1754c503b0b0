package dex_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
)

func TestStorageLayout(t *testing.T) {
	t.Parallel()
	s := dex.NewStorage("/srv/wiki/index/")
	require.Equal(t, "/srv/wiki/index", s.Dir(false))
	require.Equal(t, "/srv/wiki/index.temp", s.Dir(true))
	require.Equal(t, filepath.Join("/srv/wiki/index.temp", keys.LatestRevs), s.Path(true, keys.LatestRevs))
}

func TestStorageCreateTwice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := dex.NewStorage(filepath.Join(t.TempDir(), "index"))
	require.False(t, s.Exists(false))
	require.NoError(t, s.Create(ctx, dex.CreateOptions{}))
	require.True(t, s.Exists(false))

	err := s.Create(ctx, dex.CreateOptions{})
	var exists *dex.StorageExistsError
	require.ErrorAs(t, err, &exists)
	require.ErrorIs(t, err, dex.ErrExist)
	require.Equal(t, s.Path(false, keys.AllRevs), exists.Path)

	require.NoError(t, s.Create(ctx, dex.CreateOptions{Idempotent: true}))
}

func TestStorageMove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := dex.NewStorage(filepath.Join(t.TempDir(), "index"))

	require.ErrorIs(t, s.Move(ctx), dex.ErrNotExist)

	require.NoError(t, s.Create(ctx, dex.CreateOptions{Tmp: true}))
	require.NoError(t, s.Move(ctx))
	require.True(t, s.Exists(false))
	require.False(t, s.Exists(true))

	// promoting over an existing live generation replaces it
	require.NoError(t, s.Create(ctx, dex.CreateOptions{Tmp: true}))
	require.NoError(t, s.Move(ctx))
	require.True(t, s.Exists(false))
	require.NoDirExists(t, s.Dir(false)+".old")
}

func TestStorageRecoversInterruptedMove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("restores the aside generation", func(t *testing.T) {
		t.Parallel()
		s := dex.NewStorage(filepath.Join(t.TempDir(), "index"))
		require.NoError(t, s.Create(ctx, dex.CreateOptions{}))
		aside := s.Dir(false) + dex.AsideSuffix
		require.NoError(t, os.Rename(s.Dir(false), aside))
		require.False(t, s.Exists(false))

		require.NoError(t, s.Recover(ctx))
		require.True(t, s.Exists(false))
		require.NoDirExists(t, aside)
	})

	t.Run("finishes promoting staging", func(t *testing.T) {
		t.Parallel()
		ix := dex.New(dex.Options{Dir: filepath.Join(t.TempDir(), "index"), WikiName: "TestWiki"})
		s := ix.Storage()
		require.NoError(t, s.Create(ctx, dex.CreateOptions{}))
		require.NoError(t, s.Create(ctx, dex.CreateOptions{Tmp: true}))
		aside := s.Dir(false) + dex.AsideSuffix
		require.NoError(t, os.Rename(s.Dir(false), aside))

		// opening the live indexes completes the move
		require.NoError(t, ix.Open(ctx))
		t.Cleanup(func() { _ = ix.Close() })
		require.True(t, s.Exists(false))
		require.False(t, s.Exists(true))
		require.NoDirExists(t, aside)
	})

	t.Run("drops a stale aside generation", func(t *testing.T) {
		t.Parallel()
		s := dex.NewStorage(filepath.Join(t.TempDir(), "index"))
		require.NoError(t, s.Create(ctx, dex.CreateOptions{}))
		aside := s.Dir(false) + dex.AsideSuffix
		require.NoError(t, os.MkdirAll(aside, 0o755))

		require.NoError(t, s.Recover(ctx))
		require.True(t, s.Exists(false))
		require.NoDirExists(t, aside)
	})
}

func TestIndexerRefusesToReplaceOpenIndexes(t *testing.T) {
	t.Parallel()
	f := NewFixture(t)

	require.ErrorIs(t, f.ix.Destroy(f.ctx, false), dex.ErrOpen)
	require.ErrorIs(t, f.ix.Move(f.ctx), dex.ErrOpen)

	require.NoError(t, f.ix.Create(f.ctx, dex.CreateOptions{Tmp: true}))
	require.NoError(t, f.ix.Destroy(f.ctx, true), "staging can go while live is open")
	require.False(t, f.ix.Storage().Exists(true))

	require.NoError(t, f.ix.Close())
	require.NoError(t, f.ix.Destroy(f.ctx, false))
	require.False(t, f.ix.Storage().Exists(false))
	require.ErrorIs(t, f.ix.Open(f.ctx), dex.ErrNotExist)
}

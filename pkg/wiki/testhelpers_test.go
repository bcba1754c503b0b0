package wiki_test

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlrickert/cli-toolkit/clock"
	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/convert"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

type fixtureConfig struct {
	validation wiki.ValidationMode
}

type FixtureOption func(c *fixtureConfig)

func WithValidation(mode wiki.ValidationMode) FixtureOption {
	return func(c *fixtureConfig) { c.validation = mode }
}

// Fixture is a wiki over two memory partitions: "users" serves the
// "users" namespace and "default" everything else.
type Fixture struct {
	t *testing.T

	ctx     context.Context
	logs    *log.TestHandler
	backend *backend.Router
	ix      *dex.Indexer
	wiki    *wiki.Storage
}

func NewFixture(t *testing.T, opts ...FixtureOption) *Fixture {
	t.Helper()
	cfg := fixtureConfig{validation: wiki.ValidationStrict}
	for _, opt := range opts {
		opt(&cfg)
	}
	lg, handler := log.NewTestLogger(nil)
	ctx := log.ContextWithLogger(context.Background(), lg)

	parts := map[string]*backend.KV{}
	for _, name := range []string{"default", "users"} {
		kv, err := backend.NewKV(backend.NewMemoryStore())
		require.NoError(t, err)
		parts[name] = kv
	}
	be, err := backend.NewRouter([]backend.Mapping{
		{Namespace: "users", Backend: "users"},
		{Namespace: "", Backend: "default"},
	}, parts)
	require.NoError(t, err)
	require.NoError(t, be.Create(ctx))
	require.NoError(t, be.Open(ctx))

	ix := dex.New(dex.Options{
		Dir:       filepath.Join(t.TempDir(), "index"),
		WikiName:  "TestWiki",
		Backend:   be,
		Converter: convert.New(),
	})
	require.NoError(t, ix.Create(ctx, dex.CreateOptions{}))
	require.NoError(t, ix.Open(ctx))

	w := wiki.New(ix, wiki.Options{
		Validation:     cfg.validation,
		IndexerTimeout: 2 * time.Second,
		IndexerRetry:   5 * time.Millisecond,
		Clock:          tickingClock{clock.NewTestClock(time.Unix(1_600_000_000, 0))},
	})
	t.Cleanup(func() {
		_ = ix.Close()
		_ = be.Close()
	})
	return &Fixture{t: t, ctx: ctx, logs: handler, backend: be, ix: ix, wiki: w}
}

// tickingClock advances one second after every reading. Revision mtimes
// have second resolution, so revisions stored in a row get distinct times.
type tickingClock struct{ *clock.TestClock }

func (c tickingClock) Now() time.Time {
	now := c.TestClock.Now()
	c.Advance(time.Second)
	return now
}

func (f *Fixture) Item(name string) *wiki.Item {
	f.t.Helper()
	it, err := f.wiki.GetItem(f.ctx, name)
	require.NoError(f.t, err)
	return it
}

// Save stores a new plain text revision of the named item.
func (f *Fixture) Save(name, content string, meta backend.Meta) *wiki.Revision {
	f.t.Helper()
	if meta == nil {
		meta = backend.Meta{}
	}
	if !meta.Has(keys.ContentType) {
		meta[keys.ContentType] = keys.ContentTypeDefault
	}
	rev, err := f.Item(name).StoreRevision(f.ctx, meta, bytes.NewReader([]byte(content)), wiki.StoreOptions{})
	require.NoError(f.t, err)
	return rev
}

func (f *Fixture) ReadData(rev *wiki.Revision) string {
	f.t.Helper()
	data, err := rev.Data(f.ctx)
	require.NoError(f.t, err)
	raw, err := io.ReadAll(data)
	require.NoError(f.t, err)
	return string(raw)
}

func (f *Fixture) BackendRevIDs() []string {
	f.t.Helper()
	refs, err := backend.CollectRevisions(f.ctx, f.backend)
	require.NoError(f.t, err)
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.RevID)
	}
	return out
}

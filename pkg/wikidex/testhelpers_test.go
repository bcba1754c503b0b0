package wikidex_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jlrickert/cli-toolkit/clock"
	"github.com/jlrickert/cli-toolkit/toolkit"
	"github.com/stretchr/testify/require"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/log"
	"github.com/jlrickert/wikidex/pkg/wikidex"
)

// Fixture is a created store in a temporary directory with a "users"
// partition for the users namespace and a "default" one for the rest.
type Fixture struct {
	t *testing.T

	ctx  context.Context
	logs *log.TestHandler
	cfg  *config.Config
	w    *wikidex.Wikidex
}

func NewFixture(t *testing.T, driver string) *Fixture {
	t.Helper()
	lg, handler := log.NewTestLogger(nil)
	ctx := log.ContextWithLogger(context.Background(), lg)

	cfg := Config(t, driver)
	w, err := wikidex.New(wikidex.Options{Config: cfg, Runtime: NewRuntime(t)})
	require.NoError(t, err)
	_, err = w.Create(ctx, wikidex.CreateOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return &Fixture{t: t, ctx: ctx, logs: handler, cfg: cfg, w: w}
}

// tickingClock advances one second after every reading so that revisions
// stored in a row get distinct mtimes.
type tickingClock struct{ *clock.TestClock }

func (c tickingClock) Now() time.Time {
	now := c.TestClock.Now()
	c.Advance(time.Second)
	return now
}

// NewRuntime returns a runtime with a test environment rooted in a temporary
// home and a clock starting at a fixed instant.
func NewRuntime(t *testing.T) *toolkit.Runtime {
	t.Helper()
	rt, err := toolkit.NewRuntime(
		toolkit.WithRuntimeEnv(toolkit.NewTestEnv("", t.TempDir(), "tester")),
		toolkit.WithRuntimeClock(tickingClock{clock.NewTestClock(time.Unix(1_600_000_000, 0))}),
	)
	require.NoError(t, err)
	return rt
}

// Config returns a config rooted in a fresh temporary directory.
func Config(t *testing.T, driver string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SetDir(t.TempDir())
	cfg.WikiName = "TestWiki"
	cfg.WriterTimeout = 2 * time.Second
	cfg.WriterRetry = 5 * time.Millisecond
	cfg.IndexerTimeout = 2 * time.Second
	cfg.IndexerRetry = 5 * time.Millisecond
	cfg.Namespaces = []backend.Mapping{
		{Namespace: "users", Backend: "users"},
		{Namespace: "", Backend: "default"},
	}
	switch driver {
	case config.DriverMemory:
		cfg.Backends = map[string]config.Partition{
			"default": {Driver: config.DriverMemory},
			"users":   {Driver: config.DriverMemory},
		}
	case config.DriverBolt:
		cfg.Backends = map[string]config.Partition{
			"default": {Driver: config.DriverBolt, Path: "data/default.db", Compress: config.CompressZstd},
			"users":   {Driver: config.DriverBolt, Path: "data/users.db"},
		}
	default:
		t.Fatalf("unsupported driver %q", driver)
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

// Put stores content as the next revision of name.
func (f *Fixture) Put(name, content string, tags ...string) wikidex.PutResult {
	f.t.Helper()
	res, err := f.w.Put(f.ctx, wikidex.PutOptions{
		Name:    name,
		Data:    strings.NewReader(content),
		Tags:    tags,
		Comment: "edit " + name,
	})
	require.NoError(f.t, err)
	return res
}

// Get returns the current content of name.
func (f *Fixture) Get(name string) string {
	f.t.Helper()
	var buf bytes.Buffer
	require.NoError(f.t, f.w.Get(f.ctx, wikidex.GetOptions{Name: name}, &buf))
	return buf.String()
}

func (f *Fixture) Names(opts wikidex.SearchOptions) []string {
	f.t.Helper()
	hits, err := f.w.Search(f.ctx, opts)
	require.NoError(f.t, err)
	out := make([]string, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.Names)
	}
	return out
}

// RequireLog waits for a log entry with msg.
func (f *Fixture) RequireLog(msg string) log.LoggedEntry {
	f.t.Helper()
	return log.RequireEntry(f.t, f.logs, func(e log.LoggedEntry) bool { return e.Msg == msg }, 5*time.Second)
}

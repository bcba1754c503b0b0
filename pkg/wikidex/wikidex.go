// Package wikidex composes the configuration, the revision backend, the
// indexes and the item facade into the operations of the wikidex command.
package wikidex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jlrickert/cli-toolkit/toolkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/convert"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/wiki"
)

type Wikidex struct {
	Config   *config.Config
	Registry *prometheus.Registry
	// Runtime carries the clock and the process environment.
	Runtime *toolkit.Runtime

	mu     sync.Mutex
	be     *backend.Router
	beOpen bool
	ix     *dex.Indexer
	store  *wiki.Storage
}

type Options struct {
	// ConfigPath is read when Config is nil. Empty means wikidex.yaml in
	// the working directory.
	ConfigPath string
	Config     *config.Config

	// Runtime defaults to the process runtime.
	Runtime  *toolkit.Runtime
	Registry *prometheus.Registry
}

// New reads and validates the configuration. Backends and indexes are
// opened on first use.
func New(opts Options) (*Wikidex, error) {
	rt := opts.Runtime
	if rt == nil {
		var err error
		if rt, err = toolkit.NewRuntime(); err != nil {
			return nil, fmt.Errorf("unable to create runtime: %w", err)
		}
	}
	cfg := opts.Config
	if cfg == nil {
		path := opts.ConfigPath
		if path == "" {
			path = config.FileName
		}
		var err error
		if cfg, err = config.Read(rt, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
	}
	if err := dex.RegisterMetrics(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return &Wikidex{Config: cfg, Registry: reg, Runtime: rt}, nil
}

// newPartition builds the KV partition described by p.
func (w *Wikidex) newPartition(name string, p config.Partition) (*backend.KV, error) {
	var store backend.KVStore
	switch p.Driver {
	case config.DriverMemory:
		store = backend.NewMemoryStore()
	case config.DriverBadger:
		store = backend.NewBadgerStore(w.Config.PartitionPath(name))
	case config.DriverBolt:
		store = backend.NewBoltStore(w.Config.PartitionPath(name))
	default:
		return nil, fmt.Errorf("backend %s: %w: unknown driver %q", name, config.ErrInvalid, p.Driver)
	}
	return backend.NewKV(store, backend.WithCompression(p.Compress == config.CompressZstd))
}

// router builds the backend on first use. The caller holds mu.
func (w *Wikidex) router() (*backend.Router, error) {
	if w.be != nil {
		return w.be, nil
	}
	parts := make(map[string]*backend.KV, len(w.Config.Backends))
	for _, name := range w.Config.PartitionNames() {
		kv, err := w.newPartition(name, w.Config.Backends[name])
		if err != nil {
			return nil, err
		}
		parts[name] = kv
	}
	be, err := backend.NewRouter(w.Config.Namespaces, parts)
	if err != nil {
		return nil, err
	}
	w.be = be
	return be, nil
}

// indexer builds the indexer on first use. The caller holds mu.
func (w *Wikidex) indexer() (*dex.Indexer, error) {
	if w.ix != nil {
		return w.ix, nil
	}
	be, err := w.router()
	if err != nil {
		return nil, err
	}
	w.ix = dex.New(dex.Options{
		Dir:           w.Config.IndexPath(),
		WikiName:      w.Config.WikiName,
		Backend:       be,
		Converter:     convert.New(convert.WithIndexAsEmpty(w.Config.IndexAsEmpty...)),
		WriterTimeout: w.Config.WriterTimeout,
		WriterRetry:   w.Config.WriterRetry,
		Procs:         w.Config.Procs,
	})
	return w.ix, nil
}

// Backend returns the opened backend.
func (w *Wikidex) Backend(ctx context.Context) (*backend.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openBackend(ctx)
}

func (w *Wikidex) openBackend(ctx context.Context) (*backend.Router, error) {
	be, err := w.router()
	if err != nil {
		return nil, err
	}
	if !w.beOpen {
		if err := be.Open(ctx); err != nil {
			return nil, fmt.Errorf("open backend: %w", err)
		}
		w.beOpen = true
	}
	return be, nil
}

// Indexer returns the indexer over the opened backend. The live indexes are
// not opened.
func (w *Wikidex) Indexer(ctx context.Context) (*dex.Indexer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.openBackend(ctx); err != nil {
		return nil, err
	}
	return w.indexer()
}

// openIndex opens the backend and the live indexes.
func (w *Wikidex) openIndex(ctx context.Context) (*dex.Indexer, error) {
	ix, err := w.Indexer(ctx)
	if err != nil {
		return nil, err
	}
	if err := ix.Open(ctx); err != nil {
		return nil, fmt.Errorf("open indexes: %w", err)
	}
	return ix, nil
}

// Storage returns the item facade over the opened backend and indexes.
func (w *Wikidex) Storage(ctx context.Context) (*wiki.Storage, error) {
	ix, err := w.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.store == nil {
		mode, err := wiki.ParseValidationMode(w.Config.Validation)
		if err != nil {
			return nil, err
		}
		w.store = wiki.New(ix, wiki.Options{
			WikiName:       w.Config.WikiName,
			Validation:     mode,
			IndexerTimeout: w.Config.IndexerTimeout,
			IndexerRetry:   w.Config.IndexerRetry,
			Clock:          w.Runtime.Clock(),
		})
	}
	return w.store, nil
}

// closeIndex closes the live indexes if they are open.
func (w *Wikidex) closeIndex() error {
	w.mu.Lock()
	ix := w.ix
	w.mu.Unlock()
	if ix == nil {
		return nil
	}
	return ix.Close()
}

// Close releases the indexes and the backend. A closed Wikidex reopens on
// the next operation.
func (w *Wikidex) Close() error {
	errIx := w.closeIndex()
	w.mu.Lock()
	defer w.mu.Unlock()
	var errBe error
	if w.be != nil && w.beOpen {
		errBe = w.be.Close()
		w.beOpen = false
	}
	return errors.Join(errIx, errBe)
}

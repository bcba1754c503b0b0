package dex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

// Converter renders revision data as indexable plain text.
type Converter interface {
	ToIndexable(ctx context.Context, meta backend.Meta, data io.Reader, isNew bool) string
}

// Options configure an Indexer.
type Options struct {
	// Dir is the live index root; the staging root is Dir + ".temp".
	Dir      string
	WikiName string
	Backend  backend.Backend
	// Converter produces the indexed text during rebuild and update.
	Converter Converter

	// WriterTimeout bounds the wait for an index writer. Zero means 20s.
	WriterTimeout time.Duration
	// WriterRetry is the poll interval while waiting. Zero means 100ms.
	WriterRetry time.Duration
	// Procs is the rebuild parallelism. Zero means the number of CPUs.
	Procs int
}

const (
	DefaultWriterTimeout = 20 * time.Second
	DefaultWriterRetry   = 100 * time.Millisecond
)

// IndexOptions control IndexRevision.
type IndexOptions struct {
	// Async allows buffering the writes when the writers are busy. It only
	// applies together with ForceLatest since the latest check must see the
	// all revisions write.
	Async bool
	// ForceLatest makes the revision the latest of its item without
	// searching for the maximum mtime.
	ForceLatest bool
}

// Indexer maintains the all revisions and latest revisions indexes of a
// backend.
type Indexer struct {
	opts    Options
	storage *Storage

	mu      sync.RWMutex
	live    *generation
	queue   *asyncQueue
	readers sync.WaitGroup

	errMu sync.Mutex
	errs  []error
}

// New returns an Indexer. Call Open before reading or writing.
func New(opts Options) *Indexer {
	if opts.WriterTimeout <= 0 {
		opts.WriterTimeout = DefaultWriterTimeout
	}
	if opts.WriterRetry <= 0 {
		opts.WriterRetry = DefaultWriterRetry
	}
	if opts.Procs <= 0 {
		opts.Procs = runtime.NumCPU()
	}
	return &Indexer{opts: opts, storage: NewStorage(opts.Dir)}
}

func (x *Indexer) Storage() *Storage { return x.storage }

func (x *Indexer) Backend() backend.Backend { return x.opts.Backend }

func (x *Indexer) WikiName() string { return x.opts.WikiName }

func (x *Indexer) Converter() Converter { return x.opts.Converter }

// Create allocates empty storage for both indexes.
func (x *Indexer) Create(ctx context.Context, opts CreateOptions) error {
	return x.storage.Create(ctx, opts)
}

// Destroy removes a generation. The live generation must be closed.
func (x *Indexer) Destroy(ctx context.Context, tmp bool) error {
	if !tmp && x.IsOpen() {
		return fmt.Errorf("destroy live indexes: %w", ErrOpen)
	}
	return x.storage.Destroy(ctx, tmp)
}

// Move promotes the staging generation. The live generation must be closed.
func (x *Indexer) Move(ctx context.Context) error {
	if x.IsOpen() {
		return fmt.Errorf("move indexes: %w", ErrOpen)
	}
	return x.storage.Move(ctx)
}

// Open opens the live indexes and starts the background writer.
func (x *Indexer) Open(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.live != nil {
		return nil
	}
	g, err := x.storage.open(ctx, false)
	if err != nil {
		return err
	}
	x.live = g
	x.queue = newAsyncQueue(ctx, x)
	x.errMu.Lock()
	x.errs = nil
	x.errMu.Unlock()
	return nil
}

// IsOpen reports whether the live indexes are open.
func (x *Indexer) IsOpen() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.live != nil
}

// Close drains queued writes, waits for readers to release their snapshots
// and closes the live indexes.
func (x *Indexer) Close() error {
	x.mu.Lock()
	g, q := x.live, x.queue
	x.live, x.queue = nil, nil
	x.mu.Unlock()
	if g == nil {
		return nil
	}
	q.close()
	x.readers.Wait()
	return g.Close()
}

// Flush waits until buffered writes are visible.
func (x *Indexer) Flush(ctx context.Context) error {
	x.mu.RLock()
	q := x.queue
	x.mu.RUnlock()
	if q == nil {
		return nil
	}
	return q.flush(ctx)
}

// Err returns the failures of buffered writes since Open.
func (x *Indexer) Err() error {
	x.errMu.Lock()
	defer x.errMu.Unlock()
	return errors.Join(x.errs...)
}

func (x *Indexer) recordErr(err error) {
	x.errMu.Lock()
	defer x.errMu.Unlock()
	x.errs = append(x.errs, err)
}

// acquire pins the live generation until release is called. Close waits for
// every pin to be released.
func (x *Indexer) acquire() (*generation, func(), error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.live == nil {
		return nil, nil, ErrClosed
	}
	x.readers.Add(1)
	var once sync.Once
	return x.live, func() { once.Do(x.readers.Done) }, nil
}

// target returns the generation for an administrative operation: the
// pinned live generation when it is open and tmp is false, otherwise a
// freshly opened one that release closes.
func (x *Indexer) target(ctx context.Context, tmp bool) (*generation, func() error, error) {
	if !tmp {
		if g, release, err := x.acquire(); err == nil {
			return g, func() error { release(); return nil }, nil
		}
	}
	g, err := x.storage.open(ctx, tmp)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

// IndexRevision adds or replaces the revision in the all revisions index
// and, when it is the newest revision of its item, in the latest revisions
// index. Without ForceLatest both writes are synchronous and the latest
// check runs under the latest writer so concurrent writers converge on the
// revision with the largest mtime.
func (x *Indexer) IndexRevision(ctx context.Context, meta backend.Meta, content, backendName string, opts IndexOptions) error {
	g, release, err := x.acquire()
	if err != nil {
		return err
	}
	defer release()
	return x.indexRevision(ctx, g, meta, content, backendName, opts)
}

func (x *Indexer) indexRevision(ctx context.Context, g *generation, meta backend.Meta, content, backendName string, opts IndexOptions) error {
	revID := meta.String(keys.RevID)
	itemID := meta.String(keys.ItemID)
	if revID == "" || itemID == "" {
		return fmt.Errorf("%w: revision needs revid and itemid", ErrInvalid)
	}
	async := opts.Async && opts.ForceLatest
	lg := log.FromContext(ctx)

	allDoc := Project(meta, content, AllRevsSchema, x.opts.WikiName, backendName)
	err := x.write(ctx, g, writeOp{
		index:  keys.AllRevs,
		op:     "index",
		revID:  revID,
		itemID: itemID,
		apply: func(ctx context.Context, ix *index) error {
			return ix.bi.Index(revID, allDoc)
		},
	}, async)
	if err != nil {
		return err
	}

	latestDoc := Project(meta, content, LatestRevsSchema, x.opts.WikiName, backendName)
	return x.write(ctx, g, writeOp{
		index:  keys.LatestRevs,
		op:     "index",
		revID:  revID,
		itemID: itemID,
		apply: func(ctx context.Context, ix *index) error {
			if !opts.ForceLatest {
				winner, ok, err := latestOf(ctx, g.all(), itemID)
				if err != nil {
					return err
				}
				if !ok || winner.String(keys.RevID) != revID {
					lg.Debug("revision is not the latest of its item",
						"revid", revID, "itemid", itemID, "latest", winner.String(keys.RevID))
					return nil
				}
			}
			return ix.bi.Index(itemID, latestDoc)
		},
	}, async)
}

// RemoveRevision deletes the revision from the all revisions index. When it
// was the latest revision of its item the latest revisions index is moved to
// the new winner, or the item is dropped when none is left.
func (x *Indexer) RemoveRevision(ctx context.Context, revID string, async bool) error {
	g, release, err := x.acquire()
	if err != nil {
		return err
	}
	defer release()

	err = x.write(ctx, g, writeOp{
		index: keys.AllRevs,
		op:    "delete",
		revID: revID,
		apply: func(ctx context.Context, ix *index) error {
			return ix.bi.Delete(revID)
		},
	}, async)
	if err != nil {
		return err
	}
	return x.write(ctx, g, writeOp{
		index: keys.LatestRevs,
		op:    "delete",
		revID: revID,
		apply: func(ctx context.Context, ix *index) error {
			return x.repairLatest(ctx, g, ix, revID)
		},
	}, async)
}

// repairLatest replaces the latest document that points at a removed
// revision. It runs with the latest writer held.
func (x *Indexer) repairLatest(ctx context.Context, g *generation, ix *index, revID string) error {
	hits, err := search(ctx, ix, SearchRequest{Query: Term(keys.RevID, revID), Limit: 1, Fields: []string{keys.ItemID}})
	if err != nil {
		return err
	}
	if len(hits.Hits) == 0 {
		return nil
	}
	itemID := hits.Hits[0].ID
	winner, ok, err := latestOf(ctx, g.all(), itemID)
	if err != nil {
		return err
	}
	if !ok {
		log.FromContext(ctx).Debug("item has no revisions left", "itemid", itemID)
		return ix.bi.Delete(itemID)
	}
	doc, err := x.latestDocument(ctx, winner)
	if err != nil {
		return err
	}
	return ix.bi.Index(itemID, doc)
}

// latestDocument builds the latest revisions document of a revision found
// in the all revisions index. The metadata comes from the backend because
// the latest schema holds fields the all revisions index does not store; the
// indexed text is reused from allDoc.
func (x *Indexer) latestDocument(ctx context.Context, allDoc Document) (Document, error) {
	backendName := allDoc.String(keys.BackendName)
	revID := allDoc.String(keys.RevID)
	meta, data, err := x.opts.Backend.Retrieve(ctx, backendName, revID)
	if err != nil {
		return nil, fmt.Errorf("retrieve %s/%s: %w", backendName, revID, err)
	}
	_ = data.Close()
	return Project(meta, allDoc.String(keys.Content), LatestRevsSchema, x.opts.WikiName, backendName), nil
}

// latestOf returns the all revisions document with the largest mtime for
// itemID. Ties go to the smallest revid.
func latestOf(ctx context.Context, all *index, itemID string) (Document, bool, error) {
	res, err := search(ctx, all, SearchRequest{
		Query:  Term(keys.ItemID, itemID),
		SortBy: latestOrder,
		Limit:  1,
	})
	if err != nil {
		return nil, false, err
	}
	if len(res.Hits) == 0 {
		return nil, false, nil
	}
	return res.Hits[0].Doc, true, nil
}

var latestOrder = []string{"-" + keys.MTime, keys.RevID}

package dex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jlrickert/wikidex/pkg/log"
)

// writerLock enforces a single writer per index.
type writerLock struct {
	ch chan struct{}
}

func newWriterLock() *writerLock {
	return &writerLock{ch: make(chan struct{}, 1)}
}

func (l *writerLock) tryLock() bool {
	select {
	case l.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *writerLock) unlock() { <-l.ch }

// lock acquires the writer, polling every retry until timeout elapses or
// ctx is done. It returns how long it waited.
func (l *writerLock) lock(ctx context.Context, index string, timeout, retry time.Duration) (time.Duration, error) {
	if l.tryLock() {
		return 0, nil
	}
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	start := time.Now()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(retry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return time.Since(start), fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-deadline.C:
			if l.tryLock() {
				return time.Since(start), nil
			}
			return time.Since(start), ErrLockTimeout
		case <-ticker.C:
			if l.tryLock() {
				return time.Since(start), nil
			}
			WriterRetries.WithLabelValues(index).Inc()
		}
	}
}

// writeOp is one mutation of one index. apply runs with the index writer
// held.
type writeOp struct {
	index  string
	op     string
	revID  string
	itemID string
	apply  func(ctx context.Context, ix *index) error
}

// applyLocked runs op under the writer lock of ix, waiting for it up to the
// configured timeout.
func (x *Indexer) applyLocked(ctx context.Context, ix *index, op writeOp) error {
	waited, err := ix.lock.lock(ctx, ix.name, x.opts.WriterTimeout, x.opts.WriterRetry)
	if err != nil {
		WriterTimeouts.WithLabelValues(ix.name).Inc()
		log.FromContext(ctx).Error("index writer timeout",
			"index", ix.name, "revid", op.revID, "itemid", op.itemID, "waited", waited)
		return fmt.Errorf("%w: %w", &WriterTimeoutError{
			Index:  ix.name,
			RevID:  op.revID,
			ItemID: op.itemID,
			Waited: waited,
		}, err)
	}
	defer ix.lock.unlock()
	return op.apply(ctx, ix)
}

// write applies op to g. Async writes run immediately when the writer is
// free and nothing is queued; otherwise they are queued for the background
// writer and the call returns once submitted.
func (x *Indexer) write(ctx context.Context, g *generation, op writeOp, async bool) error {
	ix := g.indexes[op.index]
	mode := "sync"
	if async && x.queue != nil && !g.tmp {
		mode = "async"
		IndexWrites.WithLabelValues(op.index, op.op, mode).Inc()
		return x.queue.submit(ctx, ix, op)
	}
	IndexWrites.WithLabelValues(op.index, op.op, mode).Inc()
	return x.applyLocked(ctx, ix, op)
}

type queuedOp struct {
	ix *index
	op writeOp
}

// asyncQueue is the buffered writer. A single goroutine applies queued
// operations in submission order.
type asyncQueue struct {
	x *Indexer
	// ctx carries the logger of the opener; it is never cancelled.
	ctx context.Context

	mu      sync.Mutex
	cond    *sync.Cond
	items   []queuedOp
	pending int
	closed  bool
	done    chan struct{}
}

func newAsyncQueue(ctx context.Context, x *Indexer) *asyncQueue {
	q := &asyncQueue{
		x:    x,
		ctx:  context.WithoutCancel(ctx),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *asyncQueue) submit(ctx context.Context, ix *index, op writeOp) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.pending == 0 && ix.lock.tryLock() {
		q.mu.Unlock()
		defer ix.lock.unlock()
		return op.apply(ctx, ix)
	}
	q.items = append(q.items, queuedOp{ix: ix, op: op})
	q.pending++
	AsyncQueueDepth.Set(float64(q.pending))
	q.cond.Broadcast()
	q.mu.Unlock()
	log.FromContext(ctx).Debug("index writer busy, queued write",
		"index", ix.name, "revid", op.revID, "itemid", op.itemID)
	return nil
}

func (q *asyncQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		err := q.x.applyLocked(q.ctx, item.ix, item.op)
		if err != nil {
			AsyncFailures.WithLabelValues(item.ix.name).Inc()
			log.FromContext(q.ctx).Error("async index write failed",
				"index", item.ix.name, "op", item.op.op,
				"revid", item.op.revID, "itemid", item.op.itemID, "error", err)
			q.x.recordErr(err)
		}

		q.mu.Lock()
		q.pending--
		AsyncQueueDepth.Set(float64(q.pending))
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// flush waits until every queued operation has been applied or ctx is done.
func (q *asyncQueue) flush(ctx context.Context) error {
	// wake the wait below when ctx ends
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}

// close drains the queue and stops the background writer.
func (q *asyncQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}

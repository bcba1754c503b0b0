package dex

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

const batchSize = 500

// RebuildOptions control Rebuild.
type RebuildOptions struct {
	// Tmp rebuilds into the staging location.
	Tmp bool
	// Procs overrides the indexer parallelism.
	Procs int
}

// RebuildStats counts what a rebuild indexed.
type RebuildStats struct {
	Revisions int
	Latest    int
}

// Rebuild indexes every backend revision into an empty generation. Rebuild
// the staging location and promote it with Move; rebuilding into a non empty
// index leaves stale documents behind.
func (x *Indexer) Rebuild(ctx context.Context, opts RebuildOptions) (RebuildStats, error) {
	start := time.Now()
	defer func() { ReconcileDuration.WithLabelValues("rebuild").Observe(time.Since(start).Seconds()) }()
	lg := log.FromContext(ctx)

	g, release, err := x.target(ctx, opts.Tmp)
	if err != nil {
		return RebuildStats{}, err
	}
	defer release()

	refs, err := backend.CollectRevisions(ctx, x.opts.Backend)
	if err != nil {
		return RebuildStats{}, err
	}
	procs := opts.Procs
	if procs <= 0 {
		procs = x.opts.Procs
	}
	lg.Info("rebuilding indexes", "revisions", len(refs), "tmp", opts.Tmp, "procs", procs)

	added, err := x.addRevisions(ctx, g, refs, procs)
	if err != nil {
		return RebuildStats{Revisions: added}, err
	}
	winners, err := findLatest(ctx, g.all(), nil)
	if err != nil {
		return RebuildStats{Revisions: added}, err
	}
	latest, err := x.putLatest(ctx, g, winners)
	stats := RebuildStats{Revisions: added, Latest: latest}
	if err != nil {
		return stats, err
	}
	lg.Info("rebuilt indexes", "revisions", stats.Revisions, "latest", stats.Latest,
		"took", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// addRevisions retrieves and converts refs in parallel and writes them to
// the all revisions index in batches. Revisions that vanished from the
// backend since listing are skipped.
func (x *Indexer) addRevisions(ctx context.Context, g *generation, refs []backend.RevRef, procs int) (int, error) {
	lg := log.FromContext(ctx)
	all := g.all()
	added := 0
	for start := 0; start < len(refs); start += batchSize {
		chunk := refs[start:min(start+batchSize, len(refs))]
		docs := make([]Document, len(chunk))

		eg, ectx := errgroup.WithContext(ctx)
		eg.SetLimit(procs)
		for i, ref := range chunk {
			eg.Go(func() error {
				doc, err := x.allDocument(ectx, ref)
				if backend.IsNotFound(err) {
					lg.Warn("revision vanished during indexing", "backend", ref.Backend, "revid", ref.RevID)
					return nil
				}
				docs[i] = doc
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return added, err
		}

		err := x.applyLocked(ctx, all, writeOp{
			index: keys.AllRevs,
			op:    "batch",
			apply: func(ctx context.Context, ix *index) error {
				b := ix.bi.NewBatch()
				for _, doc := range docs {
					if doc == nil {
						continue
					}
					if err := b.Index(doc.ID(ix.schema), doc); err != nil {
						return err
					}
				}
				return ix.bi.Batch(b)
			},
		})
		if err != nil {
			return added, err
		}
		for _, doc := range docs {
			if doc != nil {
				added++
			}
		}
		lg.Debug("indexed revisions", "done", start+len(chunk), "total", len(refs))
	}
	return added, nil
}

// allDocument loads one revision and projects it for the all revisions
// index.
func (x *Indexer) allDocument(ctx context.Context, ref backend.RevRef) (Document, error) {
	meta, data, err := x.opts.Backend.Retrieve(ctx, ref.Backend, ref.RevID)
	if err != nil {
		return nil, err
	}
	defer data.Close()
	content := ""
	if x.opts.Converter != nil {
		content = x.opts.Converter.ToIndexable(ctx, meta, data, false)
	}
	if !meta.Has(keys.RevID) {
		meta[keys.RevID] = ref.RevID
	}
	return Project(meta, content, AllRevsSchema, x.opts.WikiName, ref.Backend), nil
}

// putLatest writes the latest document of each winner.
func (x *Indexer) putLatest(ctx context.Context, g *generation, winners []Document) (int, error) {
	n := 0
	for start := 0; start < len(winners); start += batchSize {
		chunk := winners[start:min(start+batchSize, len(winners))]
		docs := make([]Document, 0, len(chunk))
		for _, w := range chunk {
			doc, err := x.latestDocument(ctx, w)
			if backend.IsNotFound(err) {
				log.FromContext(ctx).Warn("latest revision vanished during indexing",
					"backend", w.String(keys.BackendName), "revid", w.String(keys.RevID))
				continue
			}
			if err != nil {
				return n, err
			}
			docs = append(docs, doc)
		}
		err := x.applyLocked(ctx, g.latest(), writeOp{
			index: keys.LatestRevs,
			op:    "batch",
			apply: func(ctx context.Context, ix *index) error {
				b := ix.bi.NewBatch()
				for _, doc := range docs {
					if err := b.Index(doc.ID(ix.schema), doc); err != nil {
						return err
					}
				}
				return ix.bi.Batch(b)
			},
		})
		if err != nil {
			return n, err
		}
		n += len(docs)
	}
	return n, nil
}

// findLatest returns, per item matching q, the all revisions document with
// the largest mtime. Ties go to the smallest revid so the result does not
// depend on backend iteration order.
func findLatest(ctx context.Context, all *index, q Query) ([]Document, error) {
	res, err := search(ctx, all, SearchRequest{
		Query:  q,
		SortBy: []string{keys.ItemID, "-" + keys.MTime, keys.RevID},
		Fields: []string{keys.ItemID, keys.RevID, keys.BackendName, keys.MTime, keys.Content},
	})
	if err != nil {
		return nil, err
	}
	var out []Document
	seen := map[string]bool{}
	for _, h := range res.Hits {
		itemID := h.Doc.String(keys.ItemID)
		if seen[itemID] {
			continue
		}
		seen[itemID] = true
		out = append(out, h.Doc)
	}
	return out, nil
}

// FindLatest returns the latest revision of every item with a revision
// matching q in the live all revisions index.
func (x *Indexer) FindLatest(ctx context.Context, q Query) ([]backend.RevRef, error) {
	g, release, err := x.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	docs, err := findLatest(ctx, g.all(), q)
	if err != nil {
		return nil, err
	}
	refs := make([]backend.RevRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, backend.RevRef{Backend: d.String(keys.BackendName), RevID: d.String(keys.RevID)})
	}
	return refs, nil
}

// UpdateOptions control Update.
type UpdateOptions struct {
	// Tmp updates the staging location.
	Tmp bool
}

// UpdateStats counts the changes applied by Update.
type UpdateStats struct {
	Added         int
	Removed       int
	LatestUpdated int
	LatestRemoved int
}

// Changed reports whether any index was modified.
func (s UpdateStats) Changed() bool {
	return s.Added+s.Removed+s.LatestUpdated+s.LatestRemoved > 0
}

// Update reconciles a generation with the backend: revisions missing from
// the all revisions index are added, revisions gone from the backend are
// removed, and the latest revisions index is recomputed from the result. Run
// it after promoting a rebuilt generation to absorb writes that landed on
// the previous one.
func (x *Indexer) Update(ctx context.Context, opts UpdateOptions) (bool, UpdateStats, error) {
	start := time.Now()
	defer func() { ReconcileDuration.WithLabelValues("update").Observe(time.Since(start).Seconds()) }()
	lg := log.FromContext(ctx)
	var stats UpdateStats

	if !opts.Tmp {
		if err := x.Flush(ctx); err != nil {
			return false, stats, err
		}
	}
	g, release, err := x.target(ctx, opts.Tmp)
	if err != nil {
		return false, stats, err
	}
	defer release()

	refs, err := backend.CollectRevisions(ctx, x.opts.Backend)
	if err != nil {
		return false, stats, err
	}
	inBackend := make(map[string]backend.RevRef, len(refs))
	for _, ref := range refs {
		inBackend[ref.RevID] = ref
	}
	res, err := search(ctx, g.all(), SearchRequest{Fields: []string{}})
	if err != nil {
		return false, stats, err
	}
	inIndex := make(map[string]bool, len(res.Hits))
	for _, h := range res.Hits {
		inIndex[h.ID] = true
	}

	var toAdd []backend.RevRef
	for _, ref := range refs {
		if !inIndex[ref.RevID] {
			toAdd = append(toAdd, ref)
		}
	}
	var toRemove []string
	for revID := range inIndex {
		if _, ok := inBackend[revID]; !ok {
			toRemove = append(toRemove, revID)
		}
	}

	stats.Added, err = x.addRevisions(ctx, g, toAdd, x.opts.Procs)
	if err != nil {
		return stats.Changed(), stats, err
	}
	if err := x.deleteDocs(ctx, g.all(), toRemove); err != nil {
		return stats.Changed(), stats, err
	}
	stats.Removed = len(toRemove)

	winners, err := findLatest(ctx, g.all(), nil)
	if err != nil {
		return stats.Changed(), stats, err
	}
	latest, err := search(ctx, g.latest(), SearchRequest{Fields: []string{keys.RevID}})
	if err != nil {
		return stats.Changed(), stats, err
	}
	current := make(map[string]string, len(latest.Hits))
	for _, h := range latest.Hits {
		current[h.ID] = h.Doc.String(keys.RevID)
	}
	var stale []Document
	keep := make(map[string]bool, len(winners))
	for _, w := range winners {
		itemID := w.String(keys.ItemID)
		keep[itemID] = true
		if current[itemID] != w.String(keys.RevID) {
			stale = append(stale, w)
		}
	}
	var orphans []string
	for itemID := range current {
		if !keep[itemID] {
			orphans = append(orphans, itemID)
		}
	}

	stats.LatestUpdated, err = x.putLatest(ctx, g, stale)
	if err != nil {
		return stats.Changed(), stats, err
	}
	if err := x.deleteDocs(ctx, g.latest(), orphans); err != nil {
		return stats.Changed(), stats, err
	}
	stats.LatestRemoved = len(orphans)

	ReconcileChanges.WithLabelValues(keys.AllRevs, "added").Add(float64(stats.Added))
	ReconcileChanges.WithLabelValues(keys.AllRevs, "removed").Add(float64(stats.Removed))
	ReconcileChanges.WithLabelValues(keys.LatestRevs, "updated").Add(float64(stats.LatestUpdated))
	ReconcileChanges.WithLabelValues(keys.LatestRevs, "removed").Add(float64(stats.LatestRemoved))
	lg.Info("updated indexes",
		"added", stats.Added, "removed", stats.Removed,
		"latest_updated", stats.LatestUpdated, "latest_removed", stats.LatestRemoved,
		"tmp", opts.Tmp)
	return stats.Changed(), stats, nil
}

func (x *Indexer) deleteDocs(ctx context.Context, ix *index, ids []string) error {
	for start := 0; start < len(ids); start += batchSize {
		chunk := ids[start:min(start+batchSize, len(ids))]
		err := x.applyLocked(ctx, ix, writeOp{
			index: ix.name,
			op:    "delete",
			apply: func(ctx context.Context, ix *index) error {
				b := ix.bi.NewBatch()
				for _, id := range chunk {
					b.Delete(id)
				}
				return ix.bi.Batch(b)
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Optimize compacts both indexes by regenerating them from the backend in
// the staging location, promoting the result and absorbing the writes that
// happened meanwhile. The live indexes are closed during the promotion and
// reopened afterwards when they were open.
func (x *Indexer) Optimize(ctx context.Context) error {
	start := time.Now()
	defer func() { ReconcileDuration.WithLabelValues("optimize").Observe(time.Since(start).Seconds()) }()

	if err := x.storage.Destroy(ctx, true); err != nil {
		return err
	}
	if err := x.storage.Create(ctx, CreateOptions{Tmp: true}); err != nil {
		return err
	}
	if _, err := x.Rebuild(ctx, RebuildOptions{Tmp: true}); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	wasOpen := x.IsOpen()
	if wasOpen {
		if err := x.Close(); err != nil {
			return err
		}
	}
	if err := x.storage.Move(ctx); err != nil {
		return err
	}
	if wasOpen {
		if err := x.Open(ctx); err != nil {
			return err
		}
	}
	_, _, err := x.Update(ctx, UpdateOptions{})
	return err
}

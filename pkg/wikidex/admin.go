package wikidex

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

type CreateOptions struct {
	// Tmp creates the staging indexes.
	Tmp bool
	// SkipBackend leaves the backend partitions alone.
	SkipBackend bool
	// Idempotent keeps indexes that already exist.
	Idempotent bool
}

// Create allocates the backend partitions and empty indexes.
func (w *Wikidex) Create(ctx context.Context, opts CreateOptions) (string, error) {
	w.mu.Lock()
	be, err := w.router()
	w.mu.Unlock()
	if err != nil {
		return "", err
	}
	if !opts.SkipBackend {
		if err := be.Create(ctx); err != nil {
			return "", fmt.Errorf("create backend: %w", err)
		}
	}
	ix, err := w.Indexer(ctx)
	if err != nil {
		return "", err
	}
	if err := ix.Create(ctx, dex.CreateOptions{Tmp: opts.Tmp, Idempotent: opts.Idempotent}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Created indexes at %s\n", ix.Storage().Dir(opts.Tmp)), nil
}

type DestroyOptions struct {
	Tmp bool
	// Backend also destroys every backend partition.
	Backend bool
}

// Destroy removes the indexes and optionally the backend data. Both are
// gone for good.
func (w *Wikidex) Destroy(ctx context.Context, opts DestroyOptions) (string, error) {
	if err := w.closeIndex(); err != nil {
		return "", err
	}
	w.mu.Lock()
	ix, err := w.indexer()
	w.mu.Unlock()
	if err != nil {
		return "", err
	}
	if err := ix.Destroy(ctx, opts.Tmp); err != nil {
		return "", err
	}
	out := fmt.Sprintf("Destroyed indexes at %s\n", ix.Storage().Dir(opts.Tmp))
	if opts.Backend {
		w.mu.Lock()
		be := w.be
		w.beOpen = false
		w.mu.Unlock()
		if err := be.Destroy(ctx); err != nil {
			return out, fmt.Errorf("destroy backend: %w", err)
		}
		out += "Destroyed backend\n"
	}
	return out, nil
}

type RebuildOptions struct {
	// Procs overrides the configured parallelism.
	Procs int
	// NoMove leaves the rebuilt indexes in the staging location.
	NoMove bool
}

// Rebuild indexes the whole backend into the staging location, promotes it
// and absorbs the revisions stored meanwhile with an update.
func (w *Wikidex) Rebuild(ctx context.Context, opts RebuildOptions) (string, error) {
	lg := log.FromContext(ctx)
	start := time.Now()
	ix, err := w.Indexer(ctx)
	if err != nil {
		return "", err
	}
	if err := ix.Destroy(ctx, true); err != nil {
		return "", err
	}
	if err := ix.Create(ctx, dex.CreateOptions{Tmp: true}); err != nil {
		return "", err
	}
	stats, err := ix.Rebuild(ctx, dex.RebuildOptions{Tmp: true, Procs: opts.Procs})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Indexed %d revisions of %d items\n", stats.Revisions, stats.Latest)
	if opts.NoMove {
		fmt.Fprintf(&b, "Staged indexes at %s\n", ix.Storage().Dir(true))
		return b.String(), nil
	}

	if err := w.closeIndex(); err != nil {
		return b.String(), err
	}
	if err := ix.Move(ctx); err != nil {
		return b.String(), err
	}
	if err := ix.Open(ctx); err != nil {
		return b.String(), err
	}
	_, ust, err := ix.Update(ctx, dex.UpdateOptions{})
	if err != nil {
		return b.String(), err
	}
	lg.Info("rebuild finished", "took", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(&b, "Promoted indexes to %s\n", ix.Storage().Dir(false))
	b.WriteString(FormatUpdate(ust))
	return b.String(), nil
}

type UpdateOptions struct {
	Tmp bool
}

// Update reconciles the indexes with the backend.
func (w *Wikidex) Update(ctx context.Context, opts UpdateOptions) (dex.UpdateStats, error) {
	var ix *dex.Indexer
	var err error
	if opts.Tmp {
		ix, err = w.Indexer(ctx)
	} else {
		ix, err = w.openIndex(ctx)
	}
	if err != nil {
		return dex.UpdateStats{}, err
	}
	_, stats, err := ix.Update(ctx, dex.UpdateOptions{Tmp: opts.Tmp})
	return stats, err
}

// FormatUpdate renders update statistics for the command line.
func FormatUpdate(s dex.UpdateStats) string {
	if !s.Changed() {
		return "Indexes are up to date\n"
	}
	return fmt.Sprintf("Added %d and removed %d revisions, updated %d and removed %d latest revisions\n",
		s.Added, s.Removed, s.LatestUpdated, s.LatestRemoved)
}

// Move promotes the staging indexes to the live location.
func (w *Wikidex) Move(ctx context.Context) (string, error) {
	if err := w.closeIndex(); err != nil {
		return "", err
	}
	ix, err := w.Indexer(ctx)
	if err != nil {
		return "", err
	}
	if err := ix.Move(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("Promoted indexes to %s\n", ix.Storage().Dir(false)), nil
}

type OptimizeOptions struct {
	// Backend also compacts the backend partitions.
	Backend bool
}

// Optimize regenerates the indexes and optionally compacts the backend.
func (w *Wikidex) Optimize(ctx context.Context, opts OptimizeOptions) (string, error) {
	ix, err := w.openIndex(ctx)
	if err != nil {
		return "", err
	}
	if err := ix.Optimize(ctx); err != nil {
		return "", err
	}
	out := "Optimized indexes\n"
	if opts.Backend {
		be, err := w.Backend(ctx)
		if err != nil {
			return out, err
		}
		if err := be.Optimize(ctx); err != nil {
			return out, fmt.Errorf("optimize backend: %w", err)
		}
		out += "Optimized backend\n"
	}
	return out, nil
}

type DumpOptions struct {
	Tmp bool
	// Index is all_revs or latest_revs. Empty means all_revs.
	Index string
}

// Dump writes every document of one index to out, one "field: value" line
// per stored field and a blank line after each document. It returns the
// number of documents written.
func (w *Wikidex) Dump(ctx context.Context, opts DumpOptions, out io.Writer) (int, error) {
	ix, err := w.Indexer(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for fields, err := range ix.Dump(ctx, dex.DumpOptions{Tmp: opts.Tmp, Index: opts.Index}) {
		if err != nil {
			return n, err
		}
		for _, f := range fields {
			if _, err := fmt.Fprintf(out, "%s: %s\n", f.Name, dumpValue(f.Value)); err != nil {
				return n, err
			}
		}
		if _, err := fmt.Fprintln(out); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func dumpValue(v any) string {
	switch v := v.(type) {
	case []string:
		return "[" + strings.Join(v, ", ") + "]"
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case string:
		if strings.Contains(v, "\n") {
			return fmt.Sprintf("%q", v)
		}
		return v
	}
	return fmt.Sprint(v)
}

// IndexNames lists the indexes Dump accepts.
func IndexNames() []string { return []string{keys.AllRevs, keys.LatestRevs} }

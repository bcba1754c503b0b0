package wikidex

import (
	"context"
	"io"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/log"
)

// Save serializes every backend revision to out and returns the count.
func (w *Wikidex) Save(ctx context.Context, out io.Writer) (int, error) {
	be, err := w.Backend(ctx)
	if err != nil {
		return 0, err
	}
	n, err := backend.Serialize(ctx, be, out)
	if err != nil {
		return n, err
	}
	log.FromContext(ctx).Info("saved revisions", "count", n)
	return n, nil
}

type LoadOptions struct {
	// OldNamespace and NewNamespace move loaded revisions between
	// namespaces. Both or neither must be set.
	OldNamespace *string
	NewNamespace *string
	// SkipNamespace drops revisions of this namespace.
	SkipNamespace *string
	// NoUpdate skips reconciling the live indexes afterwards.
	NoUpdate bool
}

// Load stores the serialized revisions read from in and reconciles the live
// indexes with the grown backend.
func (w *Wikidex) Load(ctx context.Context, in io.Reader, opts LoadOptions) (int, dex.UpdateStats, error) {
	be, err := w.Backend(ctx)
	if err != nil {
		return 0, dex.UpdateStats{}, err
	}
	n, err := backend.Deserialize(ctx, in, be, backend.DeserializeOptions{
		OldNamespace:  opts.OldNamespace,
		NewNamespace:  opts.NewNamespace,
		SkipNamespace: opts.SkipNamespace,
	})
	if err != nil {
		return n, dex.UpdateStats{}, err
	}
	log.FromContext(ctx).Info("loaded revisions", "count", n)
	if opts.NoUpdate {
		return n, dex.UpdateStats{}, nil
	}
	stats, err := w.Update(ctx, UpdateOptions{})
	return n, stats, err
}

package dex

import (
	"context"
	"fmt"
	"iter"

	"github.com/jlrickert/wikidex/pkg/keys"
)

// DumpOptions select the generation and index to dump.
type DumpOptions struct {
	Tmp bool
	// Index defaults to all_revs.
	Index string
}

// Dump yields every stored field of every document of one index, ordered by
// document id. Within a document fields are sorted by name with name first
// and content last.
func (x *Indexer) Dump(ctx context.Context, opts DumpOptions) iter.Seq2[[]DumpField, error] {
	return func(yield func([]DumpField, error) bool) {
		name := opts.Index
		if name == "" {
			name = keys.AllRevs
		}
		g, release, err := x.target(ctx, opts.Tmp)
		if err != nil {
			yield(nil, err)
			return
		}
		defer func() { _ = release() }()
		ix, ok := g.indexes[name]
		if !ok {
			yield(nil, fmt.Errorf("%w: unknown index %q", ErrInvalid, name))
			return
		}
		res, err := search(ctx, ix, SearchRequest{SortBy: []string{"_id"}})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, h := range res.Hits {
			if !yield(h.Doc.Ordered(), nil) {
				return
			}
		}
	}
}

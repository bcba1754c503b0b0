// Package backend stores immutable revisions: a metadata map plus a byte
// payload, keyed by revision id and grouped into named partitions.
package backend

import (
	"context"
	"io"
	"iter"
)

// RevRef locates a revision: the partition holding it and its id.
type RevRef struct {
	Backend string
	RevID   string
}

// Backend is the store the indexing layer is built on. It can store, retrieve,
// remove and enumerate revisions and nothing else; every lookup by name,
// history or search is served by the indexes.
//
// Implementations must be safe for concurrent use. Callers are expected not to
// store the same revision id from two goroutines at once.
type Backend interface {
	// Retrieve returns the metadata and payload of a revision. A missing
	// revision yields an error satisfying errors.Is(err, ErrNotExist).
	Retrieve(ctx context.Context, backendName, revID string) (Meta, io.ReadCloser, error)

	// Store writes meta and data and returns where the revision was put. It
	// may set system fields on meta (revid, dataid, size, sha1, namespace,
	// backendname) as a side effect.
	Store(ctx context.Context, meta Meta, data io.Reader) (backendName, revID string, err error)

	// Remove deletes a revision's metadata. The payload is deleted as well
	// when destroyData is set.
	Remove(ctx context.Context, backendName, revID string, destroyData bool) error

	// Has reports whether the revision exists.
	Has(ctx context.Context, backendName, revID string) (bool, error)

	// Revisions enumerates every stored revision.
	Revisions(ctx context.Context) iter.Seq2[RevRef, error]

	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Open(ctx context.Context) error
	Close() error

	// Optimize compacts the underlying stores.
	Optimize(ctx context.Context) error
}

// CollectRevisions drains Revisions into a slice.
func CollectRevisions(ctx context.Context, b Backend) ([]RevRef, error) {
	var out []RevRef
	for ref, err := range b.Revisions(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

package wiki

import (
	"context"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/jlrickert/wikidex/pkg/backend"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/keys"
)

// Revision is one stored revision of an item. Metadata is answered from
// the index document where possible; the backend is only read when a field
// the index does not store or the payload is needed. A Revision is not safe
// for concurrent use.
type Revision struct {
	item        *Item
	revID       string
	backendName string
	doc         dex.Document
	meta        *Meta
	data        io.ReadCloser
	name        string
}

func newRevision(it *Item, doc dex.Document, name string) *Revision {
	r := &Revision{
		item:        it,
		revID:       doc.String(keys.RevID),
		backendName: doc.String(keys.BackendName),
		doc:         doc,
	}
	r.meta = &Meta{rev: r, doc: doc}
	if name != "" && slices.Contains(doc.Strings(keys.Name), name) {
		r.name = name
	}
	return r
}

func (r *Revision) RevID() string { return r.revID }

func (r *Revision) BackendName() string { return r.backendName }

func (r *Revision) Item() *Item { return r.item }

// Doc returns the index document the revision was loaded from.
func (r *Revision) Doc() dex.Document { return r.doc }

func (r *Revision) Meta() *Meta { return r.meta }

func (r *Revision) Names() []string { return r.doc.Strings(keys.Name) }

// Name returns the name chosen by SetContext or lookup, else the first name.
func (r *Revision) Name() string {
	if r.name != "" {
		return r.name
	}
	if names := r.Names(); len(names) > 0 {
		return names[0]
	}
	return ""
}

// SetContext picks the first name starting with prefix as the revision's
// name.
func (r *Revision) SetContext(prefix string) {
	for _, n := range r.Names() {
		if strings.HasPrefix(n, prefix) {
			r.name = n
			return
		}
	}
}

// load reads metadata and payload from the backend.
func (r *Revision) load(ctx context.Context) (backend.Meta, error) {
	meta, data, err := r.item.s.be.Retrieve(ctx, r.backendName, r.revID)
	if err != nil {
		return nil, err
	}
	if r.data != nil {
		_ = r.data.Close()
	}
	r.data = data
	r.meta.full = meta
	return meta, nil
}

// Data returns the payload. The reader is owned by the revision and closed
// by Close.
func (r *Revision) Data(ctx context.Context) (io.ReadCloser, error) {
	if r.data == nil {
		if _, err := r.load(ctx); err != nil {
			return nil, err
		}
	}
	return r.data, nil
}

// Close releases the payload reader if one was opened.
func (r *Revision) Close() error {
	if r.data == nil {
		return nil
	}
	err := r.data.Close()
	r.data = nil
	return err
}

// Meta is the metadata of a revision. Until the full metadata is loaded
// from the backend, common fields are served from the index document.
type Meta struct {
	rev  *Revision
	doc  dex.Document
	full backend.Meta
}

var commonFields = func() map[string]bool {
	out := map[string]bool{}
	for _, f := range dex.CommonFields() {
		out[f] = true
	}
	return out
}()

// Get returns the value of key. Datetime fields are returned as unix
// seconds.
func (m *Meta) Get(ctx context.Context, key string) (any, bool, error) {
	if m.full == nil && commonFields[key] {
		if v, ok := m.doc.Meta()[key]; ok {
			return v, true, nil
		}
	}
	full, err := m.Map(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := full[key]
	return v, ok, nil
}

// String returns key as a string, empty when missing.
func (m *Meta) String(ctx context.Context, key string) (string, error) {
	v, _, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// Map returns the full metadata, loading it from the backend once.
func (m *Meta) Map(ctx context.Context) (backend.Meta, error) {
	if m.full != nil {
		return m.full, nil
	}
	return m.rev.load(ctx)
}

// Keys returns the sorted keys of the full metadata.
func (m *Meta) Keys(ctx context.Context) ([]string, error) {
	full, err := m.Map(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(full)), nil
}

// Loaded reports whether the full metadata has been read from the backend.
func (m *Meta) Loaded() bool { return m.full != nil }

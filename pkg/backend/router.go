package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/jlrickert/wikidex/pkg/keys"
)

// Mapping routes item names in Namespace to the partition named Backend.
type Mapping struct {
	Namespace string `yaml:"namespace"`
	Backend   string `yaml:"backend"`
}

// Router implements Backend over named KV partitions, choosing the partition
// for a new revision from its namespace.
type Router struct {
	mappings   []Mapping
	partitions map[string]*KV
	names      []string
}

// NewRouter validates the namespace mapping and returns a router. Order of
// mappings matters: the first namespace that prefixes a name wins, and the
// default namespace "" must be the last entry. Every referenced backend must
// be present in partitions.
func NewRouter(mappings []Mapping, partitions map[string]*KV) (*Router, error) {
	if len(mappings) == 0 || mappings[len(mappings)-1].Namespace != "" {
		return nil, fmt.Errorf("%w: default namespace \"\" must be mapped last", ErrInvalid)
	}
	for _, m := range mappings {
		if _, ok := partitions[m.Backend]; !ok {
			return nil, fmt.Errorf("%w: namespace %q maps to unknown backend %q", ErrInvalid, m.Namespace, m.Backend)
		}
	}
	names := make([]string, 0, len(partitions))
	for name := range partitions {
		names = append(names, name)
	}
	slices.Sort(names)
	return &Router{mappings: slices.Clone(mappings), partitions: partitions, names: names}, nil
}

// NewSingle routes every namespace to one partition named name.
func NewSingle(name string, kv *KV) *Router {
	r, _ := NewRouter([]Mapping{{Namespace: "", Backend: name}}, map[string]*KV{name: kv})
	return r
}

// Namespaces returns the configured namespaces in routing order.
func (r *Router) Namespaces() []string {
	out := make([]string, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m.Namespace)
	}
	return out
}

// BackendFor returns the partition name serving namespace.
func (r *Router) BackendFor(namespace string) string {
	for _, m := range r.mappings {
		if m.Namespace == namespace {
			return m.Backend
		}
	}
	return r.mappings[len(r.mappings)-1].Backend
}

// SplitName splits a fully-qualified name "ns/name" into namespace and
// local name using the configured namespaces. Names outside any namespace
// belong to the default namespace.
func (r *Router) SplitName(fqName string) (namespace, name string) {
	for _, m := range r.mappings {
		if m.Namespace == "" {
			continue
		}
		if fqName == m.Namespace {
			return m.Namespace, ""
		}
		if strings.HasPrefix(fqName, m.Namespace+"/") {
			return m.Namespace, fqName[len(m.Namespace)+1:]
		}
	}
	return "", fqName
}

func (r *Router) partition(name string) (*KV, error) {
	kv, ok := r.partitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalid, name)
	}
	return kv, nil
}

func (r *Router) Retrieve(ctx context.Context, backendName, revID string) (Meta, io.ReadCloser, error) {
	kv, err := r.partition(backendName)
	if err != nil {
		return nil, nil, err
	}
	meta, data, err := kv.Retrieve(ctx, revID)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			nf.Backend = backendName
		}
		return nil, nil, err
	}
	return meta, data, nil
}

// Store routes meta by its namespace. Without a namespace the first name is
// treated as fully qualified: its namespace is split off every name and
// recorded in meta. After storing, backendname is set on meta for the index;
// it is not part of the persisted metadata.
func (r *Router) Store(ctx context.Context, meta Meta, data io.Reader) (string, string, error) {
	var backendName string
	if ns, ok := meta[keys.Namespace].(string); ok {
		backendName = r.BackendFor(ns)
	} else {
		names := meta.Strings(keys.Name)
		if len(names) == 0 {
			return "", "", fmt.Errorf("%w: can not determine namespace: empty name list, no namespace metadata present", ErrInvalid)
		}
		ns, _ := r.SplitName(names[0])
		local := make([]string, len(names))
		for i, n := range names {
			if ns != "" {
				n = strings.TrimPrefix(n, ns+"/")
			}
			local[i] = n
		}
		meta[keys.Namespace] = ns
		meta[keys.Name] = local
		backendName = r.BackendFor(ns)
	}
	kv, err := r.partition(backendName)
	if err != nil {
		return "", "", err
	}
	delete(meta, keys.BackendName)
	revID, err := kv.Store(ctx, meta, data)
	if err != nil {
		return "", "", err
	}
	meta[keys.BackendName] = backendName
	return backendName, revID, nil
}

func (r *Router) Remove(ctx context.Context, backendName, revID string, destroyData bool) error {
	kv, err := r.partition(backendName)
	if err != nil {
		return err
	}
	return kv.Remove(ctx, revID, destroyData)
}

func (r *Router) Has(ctx context.Context, backendName, revID string) (bool, error) {
	kv, err := r.partition(backendName)
	if err != nil {
		return false, err
	}
	return kv.Has(ctx, revID)
}

// Revisions yields every revision of every partition, partitions in name
// order.
func (r *Router) Revisions(ctx context.Context) iter.Seq2[RevRef, error] {
	return func(yield func(RevRef, error) bool) {
		for _, name := range r.names {
			for revID, err := range r.partitions[name].RevIDs(ctx) {
				if err != nil {
					yield(RevRef{}, NewBackendError(name, "iterate", err, false))
					return
				}
				if !yield(RevRef{Backend: name, RevID: revID}, nil) {
					return
				}
			}
		}
	}
}

func (r *Router) each(fn func(name string, kv *KV) error) error {
	var errs []error
	for _, name := range r.names {
		if err := fn(name, r.partitions[name]); err != nil {
			errs = append(errs, fmt.Errorf("backend %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Create(ctx context.Context) error {
	return r.each(func(_ string, kv *KV) error { return kv.Create(ctx) })
}

func (r *Router) Destroy(ctx context.Context) error {
	return r.each(func(_ string, kv *KV) error { return kv.Destroy(ctx) })
}

func (r *Router) Open(ctx context.Context) error {
	return r.each(func(_ string, kv *KV) error { return kv.Open(ctx) })
}

func (r *Router) Close() error {
	return r.each(func(_ string, kv *KV) error { return kv.Close() })
}

func (r *Router) Optimize(ctx context.Context) error {
	return r.each(func(_ string, kv *KV) error { return kv.Optimize(ctx) })
}

var _ Backend = (*Router)(nil)

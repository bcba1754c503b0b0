package backend

import (
	"context"
	"iter"
	"slices"
	"sync"
)

// MemoryStore is an in-memory KVStore intended for tests and lightweight
// tooling that doesn't require persistent storage.
//
// MemoryStore uses an internal sync.RWMutex to guard both key spaces and is
// safe for concurrent use. Values are copied on the way in and out so callers
// cannot mutate stored bytes.
type MemoryStore struct {
	mu     sync.RWMutex
	spaces map[Space]map[string][]byte
}

// NewMemoryStore constructs a ready-to-use in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.reset()
	return s
}

func (s *MemoryStore) reset() {
	s.spaces = map[Space]map[string][]byte{
		SpaceMeta: make(map[string][]byte),
		SpaceData: make(map[string][]byte),
	}
}

func (s *MemoryStore) Driver() string { return "memory" }

func (s *MemoryStore) Create(ctx context.Context) error { return nil }
func (s *MemoryStore) Open(ctx context.Context) error   { return nil }
func (s *MemoryStore) Close() error                     { return nil }
func (s *MemoryStore) Optimize(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Destroy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, space Space, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.spaces[space][key]
	if !ok {
		return nil, ErrNotExist
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Put(ctx context.Context, space Space, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spaces[space][key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, space Space, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[space][key]; !ok {
		return ErrNotExist
	}
	delete(s.spaces[space], key)
	return nil
}

func (s *MemoryStore) Has(ctx context.Context, space Space, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.spaces[space][key]
	return ok, nil
}

// Keys yields a sorted snapshot of the keys in space.
func (s *MemoryStore) Keys(ctx context.Context, space Space) iter.Seq2[string, error] {
	s.mu.RLock()
	ks := make([]string, 0, len(s.spaces[space]))
	for k := range s.spaces[space] {
		ks = append(ks, k)
	}
	s.mu.RUnlock()
	slices.Sort(ks)

	return func(yield func(string, error) bool) {
		for _, k := range ks {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(k, nil) {
				return
			}
		}
	}
}

var _ KVStore = (*MemoryStore)(nil)

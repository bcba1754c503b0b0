package backend

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"runtime"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a KVStore on a badger database directory. Both key spaces
// live in one database, separated by a key prefix ("m/" and "d/").
type BadgerStore struct {
	path string

	mu sync.RWMutex
	db *badger.DB
}

// NewBadgerStore returns a store for the database at path. Open must be
// called before use.
func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (s *BadgerStore) Driver() string { return "badger" }

func spacePrefix(space Space) []byte {
	if space == SpaceData {
		return []byte("d/")
	}
	return []byte("m/")
}

func spaceKey(space Space, key string) []byte {
	return append(spacePrefix(space), key...)
}

// Create makes the database directory.
func (s *BadgerStore) Create(ctx context.Context) error {
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return NewBackendError(s.Driver(), "create", err, false)
	}
	return nil
}

// Destroy closes and removes the database directory.
func (s *BadgerStore) Destroy(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.path); err != nil {
		return NewBackendError(s.Driver(), "destroy", err, false)
	}
	return nil
}

func (s *BadgerStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	opts := badger.DefaultOptions(s.path)
	opts.Logger = nil
	opts.SyncWrites = false
	db, err := badger.Open(opts)
	if err != nil {
		return NewBackendError(s.Driver(), "open", err, true)
	}
	s.db = db
	return nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) handle() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *BadgerStore) Get(ctx context.Context, space Space, key string) ([]byte, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var value []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(spaceKey(space, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return value, nil
}

func (s *BadgerStore) Put(ctx context.Context, space Space, key string, value []byte) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(spaceKey(space, key), value)
	})
}

func (s *BadgerStore) Delete(ctx context.Context, space Space, key string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		k := spaceKey(space, key)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotExist
			}
			return err
		}
		return txn.Delete(k)
	})
}

func (s *BadgerStore) Has(ctx context.Context, space Space, key string) (bool, error) {
	_, err := s.Get(ctx, space, key)
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Keys collects the keys of space inside one read transaction and yields
// them after the transaction ends, so callers may write while iterating.
func (s *BadgerStore) Keys(ctx context.Context, space Space) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		db, err := s.handle()
		if err != nil {
			yield("", err)
			return
		}
		prefix := spacePrefix(space)
		var ks []string
		err = db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				k := it.Item().KeyCopy(nil)
				ks = append(ks, string(k[len(prefix):]))
			}
			return nil
		})
		if err != nil {
			yield("", err)
			return
		}
		for _, k := range ks {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Optimize flattens the LSM tree and runs one value log GC pass.
func (s *BadgerStore) Optimize(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}
	if err := db.Flatten(runtime.NumCPU()); err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	if err := db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}
	return nil
}

var _ KVStore = (*BadgerStore)(nil)

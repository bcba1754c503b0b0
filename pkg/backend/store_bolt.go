package backend

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is a KVStore on a single bbolt file with one bucket per key space.
type BoltStore struct {
	path string

	mu sync.RWMutex
	db *bolt.DB
}

// NewBoltStore returns a store for the database file at path.
func NewBoltStore(path string) *BoltStore {
	return &BoltStore{path: path}
}

func (s *BoltStore) Driver() string { return "bolt" }

func bucketName(space Space) []byte { return []byte(space) }

// Create makes the parent directory. Buckets are created on Open.
func (s *BoltStore) Create(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return NewBackendError(s.Driver(), "create", err, false)
	}
	return nil
}

func (s *BoltStore) Destroy(ctx context.Context) error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return NewBackendError(s.Driver(), "destroy", err, false)
	}
	return nil
}

func (s *BoltStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := bolt.Open(s.path, 0o666, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		// a timeout means another process holds the file lock
		return NewBackendError(s.Driver(), "open", err, true)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, space := range []Space{SpaceMeta, SpaceData} {
			if _, err := tx.CreateBucketIfNotExists(bucketName(space)); err != nil {
				return fmt.Errorf("create bucket %s: %w", space, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return NewBackendError(s.Driver(), "open", err, false)
	}
	s.db = db
	return nil
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BoltStore) handle() (*bolt.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db, nil
}

func (s *BoltStore) Get(ctx context.Context, space Space, key string) ([]byte, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	var value []byte
	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName(space)).Get([]byte(key))
		if v == nil {
			return ErrNotExist
		}
		// bolt values are only valid inside the transaction
		value = slices.Clone(v)
		return nil
	})
	return value, err
}

func (s *BoltStore) Put(ctx context.Context, space Space, key string, value []byte) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName(space)).Put([]byte(key), value)
	})
}

func (s *BoltStore) Delete(ctx context.Context, space Space, key string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(space))
		if b.Get([]byte(key)) == nil {
			return ErrNotExist
		}
		return b.Delete([]byte(key))
	})
}

func (s *BoltStore) Has(ctx context.Context, space Space, key string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	var ok bool
	err = db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketName(space)).Get([]byte(key)) != nil
		return nil
	})
	return ok, err
}

func (s *BoltStore) Keys(ctx context.Context, space Space) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		db, err := s.handle()
		if err != nil {
			yield("", err)
			return
		}
		var ks []string
		err = db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketName(space)).ForEach(func(k, _ []byte) error {
				ks = append(ks, string(k))
				return ctx.Err()
			})
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

// Optimize is a no-op: bbolt reuses freed pages itself.
func (s *BoltStore) Optimize(ctx context.Context) error { return nil }

var _ KVStore = (*BoltStore)(nil)

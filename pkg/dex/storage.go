package dex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"

	"github.com/jlrickert/wikidex/pkg/keys"
	"github.com/jlrickert/wikidex/pkg/log"
)

// StagingSuffix is appended to the index directory to get the staging
// location used by rebuilds.
const StagingSuffix = ".temp"

// AsideSuffix names the previous live generation while Move promotes the
// staging one.
const AsideSuffix = ".old"

// Storage owns the on-disk layout of both indexes:
//
//	<dir>/all_revs          live all revisions index
//	<dir>/latest_revs       live latest revisions index
//	<dir>.temp/...          staging copy of both, promoted by Move
//	<dir>.old/...           previous live generation during Move
type Storage struct {
	dir string
}

// NewStorage returns the storage rooted at dir.
func NewStorage(dir string) *Storage {
	return &Storage{dir: filepath.Clean(dir)}
}

// Dir returns the live or staging root.
func (s *Storage) Dir(tmp bool) string {
	if tmp {
		return s.dir + StagingSuffix
	}
	return s.dir
}

// Path returns the directory of one index.
func (s *Storage) Path(tmp bool, index string) string {
	return filepath.Join(s.Dir(tmp), index)
}

// Exists reports whether any index of the generation is present.
func (s *Storage) Exists(tmp bool) bool {
	for _, name := range keys.Indexes {
		if _, err := os.Stat(s.Path(tmp, name)); err == nil {
			return true
		}
	}
	return false
}

// CreateOptions control Create.
type CreateOptions struct {
	// Tmp targets the staging location.
	Tmp bool
	// Idempotent skips indexes that already exist instead of failing.
	Idempotent bool
}

// Create allocates empty indexes for both schemas.
func (s *Storage) Create(ctx context.Context, opts CreateOptions) error {
	lg := log.FromContext(ctx)
	if !opts.Tmp {
		if err := s.Recover(ctx); err != nil {
			return err
		}
	}
	dir := s.Dir(opts.Tmp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	for _, name := range keys.Indexes {
		path := s.Path(opts.Tmp, name)
		if _, err := os.Stat(path); err == nil {
			if opts.Idempotent {
				lg.Debug("index exists, keeping it", "index", name, "path", path)
				continue
			}
			return &StorageExistsError{Path: path}
		}
		schema, _ := SchemaFor(name)
		m, err := Mapping(schema)
		if err != nil {
			return err
		}
		bi, err := bleve.New(path, m)
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
		if err := bi.Close(); err != nil {
			return err
		}
		lg.Info("created index", "index", name, "path", path)
	}
	return nil
}

// Destroy removes a generation irreversibly.
func (s *Storage) Destroy(ctx context.Context, tmp bool) error {
	dir := s.Dir(tmp)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("destroy index dir: %w", err)
	}
	if !tmp {
		if err := os.RemoveAll(s.dir + AsideSuffix); err != nil {
			return fmt.Errorf("destroy index dir: %w", err)
		}
	}
	log.FromContext(ctx).Info("destroyed indexes", "path", dir)
	return nil
}

// Move promotes the staging generation to be the live one. The previous
// live generation is renamed aside first so the live path always names a
// complete generation or nothing. Recover finishes a Move that was
// interrupted between the two renames.
func (s *Storage) Move(ctx context.Context) error {
	staging := s.Dir(true)
	if _, err := os.Stat(staging); err != nil {
		return fmt.Errorf("no staged indexes at %s: %w", staging, ErrNotExist)
	}
	old := s.dir + AsideSuffix
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if err := os.Rename(s.dir, old); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("move live indexes aside: %w", err)
	}
	if err := os.Rename(staging, s.dir); err != nil {
		return fmt.Errorf("promote staged indexes: %w", err)
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	log.FromContext(ctx).Info("promoted staged indexes", "path", s.dir)
	return nil
}

// Recover repairs the live generation after an interrupted Move. With no
// live generation it promotes the staging one when present and restores the
// aside one otherwise. A leftover aside generation next to a live one is
// removed.
func (s *Storage) Recover(ctx context.Context) error {
	lg := log.FromContext(ctx)
	old := s.dir + AsideSuffix
	if _, err := os.Stat(old); err != nil {
		return nil
	}
	if _, err := os.Stat(s.dir); errors.Is(err, os.ErrNotExist) {
		src := old
		if _, err := os.Stat(s.Dir(true)); err == nil {
			src = s.Dir(true)
		}
		if err := os.Rename(src, s.dir); err != nil {
			return fmt.Errorf("recover live indexes: %w", err)
		}
		lg.Warn("recovered live indexes after an interrupted move", "from", src, "path", s.dir)
	}
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("remove aside indexes: %w", err)
	}
	return nil
}

// open opens both indexes of a generation.
func (s *Storage) open(ctx context.Context, tmp bool) (*generation, error) {
	if !tmp {
		if err := s.Recover(ctx); err != nil {
			return nil, err
		}
	}
	g := &generation{tmp: tmp, indexes: map[string]*index{}}
	for _, name := range keys.Indexes {
		path := s.Path(tmp, name)
		bi, err := bleve.OpenUsing(path, map[string]any{"bolt_timeout": "1s"})
		if err != nil {
			_ = g.Close()
			if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
				return nil, fmt.Errorf("open index %s: %w", path, ErrNotExist)
			}
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		schema, _ := SchemaFor(name)
		g.indexes[name] = &index{name: name, schema: schema, bi: bi, lock: newWriterLock()}
	}
	log.FromContext(ctx).Debug("opened indexes", "path", s.Dir(tmp))
	return g, nil
}

// generation is one opened pair of indexes.
type generation struct {
	tmp     bool
	indexes map[string]*index
}

func (g *generation) all() *index    { return g.indexes[keys.AllRevs] }
func (g *generation) latest() *index { return g.indexes[keys.LatestRevs] }

func (g *generation) Close() error {
	var errs []error
	for _, ix := range g.indexes {
		errs = append(errs, ix.bi.Close())
	}
	return errors.Join(errs...)
}

// index is an open bleve index plus its writer lock.
type index struct {
	name   string
	schema *Schema
	bi     bleve.Index
	lock   *writerLock
}

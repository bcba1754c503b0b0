package wikidex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jlrickert/wikidex/pkg/config"
	"github.com/jlrickert/wikidex/pkg/dex"
	"github.com/jlrickert/wikidex/pkg/log"
)

// DefaultDebounce is how long Watch waits for a burst of changes to settle.
const DefaultDebounce = 500 * time.Millisecond

type WatchOptions struct {
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
	// OnUpdate is called after every update with its result.
	OnUpdate func(dex.UpdateStats, error)
}

// watchPaths returns the directories holding the on-disk partitions.
func (w *Wikidex) watchPaths() []string {
	seen := map[string]bool{}
	var out []string
	for _, name := range w.Config.PartitionNames() {
		p := w.Config.Backends[name]
		var dir string
		switch p.Driver {
		case config.DriverBadger:
			dir = w.Config.PartitionPath(name)
		case config.DriverBolt:
			dir = filepath.Dir(w.Config.PartitionPath(name))
		default:
			continue
		}
		if !seen[dir] {
			seen[dir] = true
			out = append(out, dir)
		}
	}
	return out
}

// Watch updates the live indexes whenever a backend partition changes on
// disk, for stores written by other processes. Between updates the backend
// and the indexes are closed so writers can take their file locks. Watch
// returns when ctx is done.
func (w *Wikidex) Watch(ctx context.Context, opts WatchOptions) error {
	lg := log.FromContext(ctx)
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dirs := w.watchPaths()
	if len(dirs) == 0 {
		return fmt.Errorf("%w: no on-disk backend to watch", config.ErrInvalid)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch backend: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	lg.Info("watching backend", "dirs", dirs, "debounce", debounce)

	var (
		pending     bool
		pendingFrom time.Time
		// our own opens and closes touch the watched files
		quietUntil time.Time
	)
	update := func() {
		stats, err := w.Update(ctx, UpdateOptions{})
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			lg.Warn("watch update failed", "error", err)
		} else {
			lg.Info("updated indexes", "added", stats.Added, "removed", stats.Removed,
				"latest_updated", stats.LatestUpdated, "latest_removed", stats.LatestRemoved)
		}
		if opts.OnUpdate != nil {
			opts.OnUpdate(stats, err)
		}
		quietUntil = time.Now().Add(debounce)
	}

	tick := debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if pending && time.Since(pendingFrom) >= debounce {
				pending = false
				update()
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if time.Now().Before(quietUntil) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				pending = true
				pendingFrom = time.Now()
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			lg.Warn("backend watcher error", "error", werr)
		case <-ctx.Done():
			return w.Close()
		}
	}
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/naokikimura/carp-streamer/internal/walker"
)

// Watch error backoff bounds.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 30 * time.Second

	// DefaultDebounce is the quiet period after the last filesystem event
	// before changed paths are synchronized.
	DefaultDebounce = 2 * time.Second
)

// FsWatcher abstracts fsnotify.Watcher so tests can inject events.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func (f fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// NewFsWatcher returns an FsWatcher backed by fsnotify.
func NewFsWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sync: creating watcher: %w", err)
	}

	return fsnotifyWatcher{w: w}, nil
}

// Watch keeps root synchronized after an initial pass. Changed paths are
// collected until debounce elapses without new events, then synchronized
// as one batch. Removals are ignored: remote entries are never deleted.
// The returned channel closes after ctx is canceled and the current batch
// drains.
func (s *Synchronizer) Watch(ctx context.Context, root string, watcher FsWatcher, debounce time.Duration) <-chan Result {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	out := make(chan Result, s.workers)

	go func() {
		defer close(out)
		defer watcher.Close()

		s.addWatches(watcher, s.walker.Entry(root), s.walker.Walk(root))

		for r := range s.Run(ctx, root) {
			out <- r
		}

		s.watchLoop(ctx, root, watcher, debounce, out)
	}()

	return out
}

func (s *Synchronizer) watchLoop(
	ctx context.Context, root string, watcher FsWatcher, debounce time.Duration, out chan<- Result,
) {
	pending := make(map[string]struct{})

	timer := time.NewTimer(debounce)
	timer.Stop() // start idle; no events yet
	defer timer.Stop()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}

			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			pending[ev.Name] = struct{}{}
			timer.Reset(debounce)

			errBackoff = watchErrInitBackoff

		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}

			s.logger.Warn("filesystem watcher error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(errBackoff):
			}

			errBackoff = min(errBackoff*2, watchErrMaxBackoff)

		case <-timer.C:
			batch := s.batchEntries(watcher, pending)
			pending = make(map[string]struct{})

			s.logger.Info("watch: synchronizing changes", slog.Int("paths", len(batch)))

			for r := range s.RunEntries(ctx, root, slices.Values(batch)) {
				out <- r
			}
		}
	}
}

// batchEntries turns changed paths into entries in path order. New
// directories are watched and expanded to their full subtree, since files
// may land in them before the watch is registered.
func (s *Synchronizer) batchEntries(watcher FsWatcher, pending map[string]struct{}) []walker.Entry {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, filepath.Clean(p))
	}

	slices.Sort(paths)

	seen := make(map[string]bool)

	var batch []walker.Entry

	add := func(e walker.Entry) {
		if !seen[e.Path] {
			seen[e.Path] = true
			batch = append(batch, e)
		}
	}

	for _, p := range paths {
		e := s.walker.Entry(p)

		if e.Kind == walker.KindInaccessible && errors.Is(e.Err, fs.ErrNotExist) {
			continue // created and removed again before the batch ran
		}

		add(e)

		if e.Kind == walker.KindDir {
			sub := s.walker.Walk(p)
			s.addWatches(watcher, e, sub)

			for child := range sub {
				add(child)
			}
		}
	}

	return batch
}

// addWatches registers dir and every directory in entries.
func (s *Synchronizer) addWatches(watcher FsWatcher, dir walker.Entry, entries iter.Seq[walker.Entry]) {
	add := func(p string) {
		if err := watcher.Add(p); err != nil {
			s.logger.Warn("failed to add watch",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}

	if dir.Kind == walker.KindDir {
		add(dir.Path)
	}

	for e := range entries {
		if e.Kind == walker.KindDir {
			add(e.Path)
		}
	}
}

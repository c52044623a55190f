package sync

import (
	"context"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naokikimura/carp-streamer/internal/remote/remotetest"
	"github.com/naokikimura/carp-streamer/internal/resolver"
)

type fakeWatcher struct {
	events chan fsnotify.Event
	errs   chan error

	mu     stdsync.Mutex
	added  []string
	closed bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan fsnotify.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeWatcher) Add(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.added = append(f.added, name)

	return nil
}

func (f *fakeWatcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeWatcher) Errors() <-chan error          { return f.errs }

func (f *fakeWatcher) watched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.added...)
}

func receive(t *testing.T, ch <-chan Result) Result {
	t.Helper()

	select {
	case r, ok := <-ch:
		require.True(t, ok, "results channel closed early")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

func TestWatch_InitialPassThenChanges(t *testing.T) {
	srv := remotetest.New()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(filepath.Join(srcRoot, "docs"), 0o755))

	s := New(openResolver(t, srv, resolver.Options{}), Options{Fs: fs, Workers: 1})
	w := newFakeWatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	results := s.Watch(ctx, srcRoot, w, 50*time.Millisecond)

	first := receive(t, results)
	assert.Equal(t, "docs", first.RelPath)
	assert.Equal(t, StatusCreated, first.Status)
	assert.ElementsMatch(t, []string{srcRoot, filepath.Join(srcRoot, "docs")}, w.watched())

	// A new file, reported twice, is synchronized once.
	newFile := filepath.Join(srcRoot, "docs", "a.txt")
	require.NoError(t, afero.WriteFile(fs, newFile, []byte("a"), 0o644))
	w.events <- fsnotify.Event{Name: newFile, Op: fsnotify.Create}
	w.events <- fsnotify.Event{Name: newFile, Op: fsnotify.Write}

	r := receive(t, results)
	assert.Equal(t, "docs/a.txt", r.RelPath)
	assert.Equal(t, StatusUploaded, r.Status)

	// A new directory is watched and its existing contents picked up.
	newDir := filepath.Join(srcRoot, "new")
	require.NoError(t, fs.MkdirAll(newDir, 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(newDir, "b.txt"), []byte("b"), 0o644))
	w.events <- fsnotify.Event{Name: newDir, Op: fsnotify.Create}

	got := map[string]Status{}
	for range 2 {
		r := receive(t, results)
		got[r.RelPath] = r.Status
	}

	assert.Equal(t, map[string]Status{"new": StatusCreated, "new/b.txt": StatusUploaded}, got)
	assert.Contains(t, w.watched(), newDir)

	// Chmod-only and vanished paths produce nothing.
	w.events <- fsnotify.Event{Name: newFile, Op: fsnotify.Chmod}
	w.events <- fsnotify.Event{Name: filepath.Join(srcRoot, "gone"), Op: fsnotify.Create}

	cancel()

	for range results {
		t.Fatal("no results expected after cancel")
	}

	w.mu.Lock()
	assert.True(t, w.closed)
	w.mu.Unlock()
}

// Package walker enumerates a local directory tree lazily, depth first,
// with siblings in lexical order. A directory that cannot be listed is
// reported as a single inaccessible entry and the walk carries on.
package walker

import (
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"
)

// Kind classifies a walked entry.
type Kind int

const (
	KindFile Kind = iota + 1
	KindDir
	KindInaccessible
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	case KindInaccessible:
		return "inaccessible"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entry is one walked path. Info is nil and Err is set only for
// KindInaccessible.
type Entry struct {
	Path string
	Kind Kind
	Info fs.FileInfo
	Err  error
}

// Walker walks trees on one filesystem.
type Walker struct {
	fs     afero.Fs
	logger *slog.Logger
}

// New returns a walker over fsys.
func New(fsys afero.Fs, logger *slog.Logger) *Walker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Walker{fs: fsys, logger: logger}
}

// Walk returns the entries below root. The root itself is not yielded
// unless it is not a directory (a single file entry) or cannot be listed
// (a single inaccessible entry). Each call to the returned sequence starts
// a fresh traversal.
func (w *Walker) Walk(root string) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		info, err := w.lstat(root)
		if err != nil {
			yield(w.inaccessible(root, err))
			return
		}

		if !info.IsDir() {
			yield(Entry{Path: root, Kind: KindFile, Info: info})
			return
		}

		children, err := afero.ReadDir(w.fs, root)
		if err != nil {
			yield(w.inaccessible(root, err))
			return
		}

		w.walkDir(root, children, yield)
	}
}

// walkDir yields the already-listed children of dir. It returns false
// once the consumer stops.
func (w *Walker) walkDir(dir string, children []fs.FileInfo, yield func(Entry) bool) bool {
	for _, info := range children {
		p := filepath.Join(dir, info.Name())

		if !info.IsDir() {
			if !yield(Entry{Path: p, Kind: KindFile, Info: info}) {
				return false
			}

			continue
		}

		// List before yielding so an unreadable directory is reported once,
		// as inaccessible, instead of as a dir followed by a failure.
		grandchildren, err := afero.ReadDir(w.fs, p)
		if err != nil {
			if !yield(w.inaccessible(p, err)) {
				return false
			}

			continue
		}

		if !yield(Entry{Path: p, Kind: KindDir, Info: info}) {
			return false
		}

		if !w.walkDir(p, grandchildren, yield) {
			return false
		}
	}

	return true
}

// Entry classifies the single path p without descending into it. A
// directory that cannot be listed is reported as inaccessible.
func (w *Walker) Entry(p string) Entry {
	info, err := w.lstat(p)
	if err != nil {
		return w.inaccessible(p, err)
	}

	if !info.IsDir() {
		return Entry{Path: p, Kind: KindFile, Info: info}
	}

	f, err := w.fs.Open(p)
	if err != nil {
		return w.inaccessible(p, err)
	}
	f.Close()

	return Entry{Path: p, Kind: KindDir, Info: info}
}

func (w *Walker) lstat(p string) (fs.FileInfo, error) {
	if l, ok := w.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}

	return w.fs.Stat(p)
}

func (w *Walker) inaccessible(p string, err error) Entry {
	w.logger.Warn("walker: skipping inaccessible path",
		slog.String("path", p),
		slog.String("error", err.Error()),
	)

	return Entry{Path: p, Kind: KindInaccessible, Err: err}
}

// RelPath returns p relative to root as an NFC-normalized slash path.
// The root itself maps to ".".
func RelPath(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("walker: %s is not under %s: %w", p, root, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("walker: %s is not under %s", p, root)
	}

	return norm.NFC.String(filepath.ToSlash(rel)), nil
}

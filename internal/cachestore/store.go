// Package cachestore persists path cache snapshots between runs. The
// backend is chosen from the snapshot file's extension: ".db" and
// ".sqlite" use SQLite, ".bolt" and ".bbolt" use bbolt, and anything else
// is a JSON file.
package cachestore

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/naokikimura/carp-streamer/internal/pathcache"
)

// FilePerms restricts snapshot files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the snapshot's parent directory.
const DirPerms = 0o700

// Store loads and saves path cache snapshots.
type Store interface {
	// Load returns the saved snapshot, or an empty one when nothing has
	// been saved yet.
	Load(ctx context.Context) (pathcache.Snapshot, error)

	// Save replaces the saved snapshot.
	Save(ctx context.Context, snap pathcache.Snapshot) error

	// Clear removes the saved snapshot.
	Clear(ctx context.Context) error

	Close() error
}

// Backend names reported by Kind.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Kind returns the backend used for path.
func Kind(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return BackendSQLite
	case ".bolt", ".bbolt":
		return BackendBolt
	default:
		return BackendJSON
	}
}

// Open opens the store for path using the backend its extension selects.
func Open(ctx context.Context, path string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch Kind(path) {
	case BackendSQLite:
		return OpenSQLite(ctx, path, logger)
	case BackendBolt:
		return OpenBolt(path, logger)
	default:
		return NewFileStore(path, logger), nil
	}
}

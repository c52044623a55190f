package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/naokikimura/carp-streamer/internal/pathcache"
)

// FileStore keeps the snapshot as a single JSON document.
type FileStore struct {
	path   string
	logger *slog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a JSON-backed store at path. The file is created
// on first Save.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Load(_ context.Context) (pathcache.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return pathcache.Snapshot{}, nil
	}

	if err != nil {
		return pathcache.Snapshot{}, fmt.Errorf("cachestore: reading %s: %w", s.path, err)
	}

	var snap pathcache.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return pathcache.Snapshot{}, fmt.Errorf("cachestore: decoding %s: %w", s.path, err)
	}

	s.logger.Debug("cache snapshot loaded",
		slog.String("path", s.path),
		slog.Int("entries", snap.Len()),
	)

	return snap, nil
}

// Save writes the snapshot atomically (write-to-temp + rename).
func (s *FileStore) Save(_ context.Context, snap pathcache.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cachestore: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("cachestore: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".cache-*.tmp")
	if err != nil {
		return fmt.Errorf("cachestore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("cachestore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cachestore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cachestore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cachestore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("cachestore: renaming: %w", err)
	}

	success = true

	s.logger.Debug("cache snapshot saved",
		slog.String("path", s.path),
		slog.Int("entries", snap.Len()),
	)

	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cachestore: removing %s: %w", s.path, err)
	}

	return nil
}

func (s *FileStore) Close() error { return nil }

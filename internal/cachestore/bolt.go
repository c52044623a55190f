package cachestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/naokikimura/carp-streamer/internal/pathcache"
)

var bucketPathCache = []byte("path_cache")

// BoltStore keeps one record per parent key in a single bucket. Keys are
// big-endian recency positions, so a cursor walk yields oldest first.
type BoltStore struct {
	db     *bbolt.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (creating if needed) the bbolt file at path.
func OpenBolt(path string, logger *slog.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, FilePerms, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cachestore: opening bolt %s: %w", path, err)
	}

	return &BoltStore{db: db, path: path, logger: logger}, nil
}

func (s *BoltStore) Load(_ context.Context) (pathcache.Snapshot, error) {
	var snap pathcache.Snapshot

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPathCache)
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var e pathcache.SnapshotEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding entry: %w", err)
			}

			snap.Entries = append(snap.Entries, e)

			return nil
		})
	})
	if err != nil {
		return pathcache.Snapshot{}, fmt.Errorf("cachestore: loading %s: %w", s.path, err)
	}

	s.logger.Debug("cache snapshot loaded",
		slog.String("path", s.path),
		slog.Int("entries", snap.Len()),
	)

	return snap, nil
}

func (s *BoltStore) Save(_ context.Context, snap pathcache.Snapshot) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketPathCache); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("dropping bucket: %w", err)
		}

		b, err := tx.CreateBucket(bucketPathCache)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}

		for i := range snap.Entries {
			v, err := json.Marshal(&snap.Entries[i])
			if err != nil {
				return fmt.Errorf("encoding %s: %w", snap.Entries[i].ParentID, err)
			}

			if err := b.Put(positionKey(i), v); err != nil {
				return fmt.Errorf("writing %s: %w", snap.Entries[i].ParentID, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("cachestore: saving %s: %w", s.path, err)
	}

	s.logger.Debug("cache snapshot saved",
		slog.String("path", s.path),
		slog.Int("entries", snap.Len()),
	)

	return nil
}

func (s *BoltStore) Clear(_ context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketPathCache); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("cachestore: clearing %s: %w", s.path, err)
	}

	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func positionKey(i int) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(i)) //nolint:gosec // i is a non-negative slice index

	return k
}

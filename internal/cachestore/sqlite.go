package cachestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/naokikimura/carp-streamer/internal/pathcache"
	"github.com/naokikimura/carp-streamer/internal/remote"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlLoadEntries = `SELECT parent_id, stored_at, entities FROM path_cache ORDER BY position`
	sqlClear       = `DELETE FROM path_cache`
	sqlInsertEntry = `INSERT INTO path_cache (parent_id, position, stored_at, entities)
		VALUES (?, ?, ?, ?)`
)

// SQLiteStore keeps one row per parent key, ordered by recency.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cachestore: opening database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: path, logger: logger}, nil
}

// runMigrations applies all pending schema migrations to the database.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	// Strip the "migrations/" prefix so goose sees files at the root of the FS.
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("cachestore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("cachestore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("cachestore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (pathcache.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, sqlLoadEntries)
	if err != nil {
		return pathcache.Snapshot{}, fmt.Errorf("cachestore: loading entries: %w", err)
	}
	defer rows.Close()

	var snap pathcache.Snapshot

	for rows.Next() {
		var (
			parentID string
			storedAt int64
			raw      string
		)

		if err := rows.Scan(&parentID, &storedAt, &raw); err != nil {
			return pathcache.Snapshot{}, fmt.Errorf("cachestore: scanning entry: %w", err)
		}

		var entities []remote.Entity
		if err := json.Unmarshal([]byte(raw), &entities); err != nil {
			return pathcache.Snapshot{}, fmt.Errorf("cachestore: decoding entities of %s: %w", parentID, err)
		}

		snap.Entries = append(snap.Entries, pathcache.SnapshotEntry{
			ParentID: parentID,
			Entities: entities,
			StoredAt: time.Unix(0, storedAt),
		})
	}

	if err := rows.Err(); err != nil {
		return pathcache.Snapshot{}, fmt.Errorf("cachestore: iterating entries: %w", err)
	}

	s.logger.Debug("cache snapshot loaded",
		slog.String("path", s.path),
		slog.Int("entries", snap.Len()),
	)

	return snap, nil
}

// Save replaces all rows in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap pathcache.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cachestore: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	if _, err := tx.ExecContext(ctx, sqlClear); err != nil {
		return fmt.Errorf("cachestore: clearing entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, sqlInsertEntry)
	if err != nil {
		return fmt.Errorf("cachestore: preparing insert: %w", err)
	}
	defer stmt.Close()

	for i := range snap.Entries {
		e := &snap.Entries[i]

		raw, err := json.Marshal(e.Entities)
		if err != nil {
			return fmt.Errorf("cachestore: encoding entities of %s: %w", e.ParentID, err)
		}

		if _, err := stmt.ExecContext(ctx, e.ParentID, i, e.StoredAt.UnixNano(), string(raw)); err != nil {
			return fmt.Errorf("cachestore: inserting %s: %w", e.ParentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cachestore: committing: %w", err)
	}

	s.logger.Debug("cache snapshot saved",
		slog.String("path", s.path),
		slog.Int("entries", snap.Len()),
	)

	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqlClear); err != nil {
		return fmt.Errorf("cachestore: clearing entries: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/naokikimura/carp-streamer/internal/digest"
	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/resolver"
	"github.com/naokikimura/carp-streamer/internal/walker"
)

// process runs one task to a terminal Result, converting panics into
// FAILURE so one bad entry cannot take down the pool.
func (s *Synchronizer) process(ctx context.Context, t Task, logger *slog.Logger) (r Result) {
	s.observer.TaskStarted(t)

	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			r = Result{Status: StatusFailure, Err: fmt.Errorf("sync: panic: %v", p)}
		}

		r.Path = t.Entry.Path
		r.RelPath = t.RelPath
		r.Duration = time.Since(start)

		if r.Err != nil {
			logger.Warn("task failed",
				slog.String("path", t.RelPath),
				slog.String("status", r.Status.String()),
				slog.String("error", r.Err.Error()),
			)
		} else {
			logger.Debug("task completed",
				slog.String("path", t.RelPath),
				slog.String("status", r.Status.String()),
				slog.Duration("duration", r.Duration),
			)
		}

		s.observer.TaskCompleted(r)
	}()

	return s.execute(ctx, t)
}

// execute decides the outcome of one task.
func (s *Synchronizer) execute(ctx context.Context, t Task) Result {
	if t.RelPath == "" || t.RelPath == "." {
		return failure(fmt.Errorf("sync: %s has no path below the sync root", t.Entry.Path))
	}

	if t.Excludes.Match(t.RelPath) {
		return Result{Status: StatusExcluded}
	}

	if t.Entry.Kind == walker.KindInaccessible {
		return Result{Status: StatusDenied, Err: t.Entry.Err}
	}

	for _, seg := range strings.Split(t.RelPath, "/") {
		if err := resolver.ValidateName(seg); err != nil {
			return failure(err)
		}
	}

	switch t.Entry.Kind {
	case walker.KindDir:
		return s.syncDir(ctx, t)
	case walker.KindFile:
		return s.syncFile(ctx, t)
	default:
		return Result{Status: StatusUnknown}
	}
}

// syncDir reports CREATED for a folder made during this run even when a
// nested entry's task created it first.
func (s *Synchronizer) syncDir(ctx context.Context, t Task) Result {
	folder, err := s.resolver.FindFolderByPath(ctx, t.RelPath)
	if err != nil {
		return failure(err)
	}

	if folder != nil {
		if s.resolver.ClaimCreated(folder.ID) {
			return Result{Status: StatusCreated, Entity: folder}
		}

		return Result{Status: StatusSynchronized, Entity: folder}
	}

	if t.Pretend {
		return Result{Status: StatusCreated}
	}

	created, err := s.resolver.CreateFolderUnlessItExists(ctx, t.RelPath)
	if err != nil {
		return failure(err)
	}

	s.resolver.ClaimCreated(created.ID)

	return Result{Status: StatusCreated, Entity: created}
}

// syncFile opens the local file before touching the remote tree, so an
// unreadable file creates no parent folders.
func (s *Synchronizer) syncFile(ctx context.Context, t Task) Result {
	f, err := s.fs.Open(t.Entry.Path)
	if err != nil {
		err = fmt.Errorf("sync: opening %s: %w", t.Entry.Path, err)
		if errors.Is(err, fs.ErrPermission) {
			return Result{Status: StatusDenied, Err: err}
		}

		return failure(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return failure(fmt.Errorf("sync: stat %s: %w", t.Entry.Path, err))
	}

	existing, err := s.resolver.FindFileByPath(ctx, t.RelPath)
	if err != nil {
		return failure(err)
	}

	if existing != nil {
		return s.compareFile(ctx, t, existing, f, info)
	}

	if t.Pretend {
		return Result{Status: StatusUploaded}
	}

	folder, err := s.resolver.CreateFolderUnlessItExists(ctx, path.Dir(t.RelPath))
	if err != nil {
		return failure(err)
	}

	uploaded, err := s.resolver.UploadFile(ctx, path.Base(t.RelPath), f, info, folder)
	if err != nil {
		return failure(err)
	}

	return Result{Status: StatusUploaded, Entity: uploaded}
}

func (s *Synchronizer) compareFile(
	ctx context.Context, t Task, existing *remote.Entity, f afero.File, info fs.FileInfo,
) Result {
	sum, err := digest.Reader(f)
	if err != nil {
		return failure(fmt.Errorf("sync: hashing %s: %w", t.Entry.Path, err))
	}

	if strings.EqualFold(sum, existing.SHA1) {
		return Result{Status: StatusSynchronized, Entity: existing}
	}

	if t.Pretend {
		return Result{Status: StatusUpgraded, Entity: existing}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return failure(fmt.Errorf("sync: rewinding %s: %w", t.Entry.Path, err))
	}

	upgraded, err := s.resolver.UploadNewFileVersion(ctx, existing, f, info)
	if err != nil {
		return failure(err)
	}

	return Result{Status: StatusUpgraded, Entity: upgraded}
}

func failure(err error) Result {
	return Result{Status: StatusFailure, Err: err}
}

// Package sync drives a local tree into a remote folder. Walked entries
// flow through a bounded channel to a fixed pool of workers; each worker
// resolves its entry remotely and reports exactly one Result. A failing
// task never stops the others.
package sync

import (
	"context"
	"io/fs"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/resolver"
	"github.com/naokikimura/carp-streamer/internal/walker"
)

// DefaultWorkers is the pool size used when Options.Workers <= 0.
const DefaultWorkers = 10

// Resolver is the remote tree surface the synchronizer drives. Satisfied
// by *resolver.Resolver.
type Resolver interface {
	FindFolderByPath(ctx context.Context, p string) (*remote.Entity, error)
	FindFileByPath(ctx context.Context, p string) (*remote.Entity, error)
	CreateFolderUnlessItExists(ctx context.Context, p string) (*remote.Entity, error)
	UploadFile(
		ctx context.Context, name string, content resolver.Content, info fs.FileInfo, folder *remote.Entity,
	) (*remote.Entity, error)
	UploadNewFileVersion(
		ctx context.Context, file *remote.Entity, content resolver.Content, info fs.FileInfo,
	) (*remote.Entity, error)
	ClaimCreated(id string) bool
}

var _ Resolver = (*resolver.Resolver)(nil)

// Options configures a Synchronizer.
type Options struct {
	// Workers bounds concurrent tasks and therefore in-flight remote calls.
	Workers int

	// Excludes are relative path prefixes reported as EXCLUDED.
	Excludes []string

	// Pretend suppresses creates and uploads while still reporting the
	// outcome they would have had.
	Pretend bool

	// Fs is the local filesystem. Defaults to the OS filesystem.
	Fs afero.Fs

	Observer Observer
	Logger   *slog.Logger
}

// Synchronizer is safe to Run concurrently for different roots.
type Synchronizer struct {
	resolver Resolver
	fs       afero.Fs
	walker   *walker.Walker
	workers  int
	excludes Excludes
	pretend  bool
	observer Observer
	logger   *slog.Logger
}

// New creates a synchronizer that writes through res.
func New(res Resolver, opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	observer := opts.Observer
	if observer == nil {
		observer = NopObserver{}
	}

	return &Synchronizer{
		resolver: res,
		fs:       fsys,
		walker:   walker.New(fsys, logger),
		workers:  workers,
		excludes: NewExcludes(opts.Excludes),
		pretend:  opts.Pretend,
		observer: observer,
		logger:   logger,
	}
}

// Run walks root and synchronizes every entry below it. Results arrive
// in completion order on the returned channel, which is closed once every
// enqueued task has finished. Canceling ctx stops intake; tasks already
// queued still report. The caller must drain the channel.
func (s *Synchronizer) Run(ctx context.Context, root string) <-chan Result {
	return s.RunEntries(ctx, root, s.walker.Walk(root))
}

// RunEntries synchronizes the given entries, all of which must lie under
// root. Run uses it with a full walk; watch mode with changed paths.
func (s *Synchronizer) RunEntries(ctx context.Context, root string, entries iter.Seq[walker.Entry]) <-chan Result {
	runID := uuid.NewString()
	logger := s.logger.With(slog.String("run_id", runID))

	tasks := make(chan Task, s.workers)
	results := make(chan Result, s.workers)

	logger.Info("sync run started",
		slog.String("root", root),
		slog.Int("workers", s.workers),
		slog.Bool("pretend", s.pretend),
	)

	go func() {
		defer close(results)

		start := time.Now()

		var g errgroup.Group

		g.Go(func() error {
			defer close(tasks)
			s.produce(ctx, root, entries, tasks)

			return nil
		})

		for range s.workers {
			g.Go(func() error {
				for t := range tasks {
					r := s.process(ctx, t, logger)
					r.RunID = runID
					results <- r
				}

				return nil
			})
		}

		_ = g.Wait() //nolint:errcheck // workers report failures as results

		logger.Info("sync run finished",
			slog.String("root", root),
			slog.Duration("elapsed", time.Since(start)),
		)
	}()

	return results
}

// produce feeds walked entries into tasks as they are discovered.
func (s *Synchronizer) produce(ctx context.Context, root string, entries iter.Seq[walker.Entry], tasks chan<- Task) {
	for e := range entries {
		if ctx.Err() != nil {
			s.logger.Info("intake stopped", slog.String("reason", ctx.Err().Error()))
			return
		}

		rel, err := walker.RelPath(root, e.Path)
		if err != nil {
			s.logger.Warn("entry outside sync root",
				slog.String("path", e.Path),
				slog.String("error", err.Error()),
			)
		}

		t := Task{
			Entry:    e,
			Root:     root,
			RelPath:  rel,
			Excludes: s.excludes,
			Pretend:  s.pretend,
		}

		select {
		case tasks <- t:
		case <-ctx.Done():
			s.logger.Info("intake stopped", slog.String("reason", ctx.Err().Error()))
			return
		}
	}
}

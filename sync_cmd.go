package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/naokikimura/carp-streamer/internal/metrics"
	"github.com/naokikimura/carp-streamer/internal/sync"
)

// errSyncFailures signals that the run finished but at least one task
// ended in FAILURE. main maps it to exit code 1 without printing it.
var errSyncFailures = errors.New("one or more tasks failed")

// metricsShutdownTimeout bounds how long the metrics server drains.
const metricsShutdownTimeout = 5 * time.Second

// newFsWatcher is replaced in tests.
var newFsWatcher = sync.NewFsWatcher

var flagWatch bool

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <source>... <dest-folder-id>",
		Short: "Upload local directories into a remote folder",
		Long: `Walks each source directory and mirrors it under the remote folder
<dest-folder-id>: missing folders are created, new files uploaded, and files
whose content changed get a new version. Nothing is ever deleted remotely.

Each result is printed as "STATUS path", sorted by path (JSON lines with
--json), followed by a summary. The exit code is 1 when any task failed.`,
		Args: cobra.MinimumNArgs(2), //nolint:mnd // at least one source and the destination
		RunE: runSync,
	}

	flags := cmd.Flags()
	flags.Bool("dry-run", false, "report what would change without creating or uploading anything")
	flags.IntP("concurrency", "c", 0, "number of concurrent tasks")
	flags.StringArray("exclude", nil, "relative path prefix to skip (repeatable)")
	flags.String("cache-file", "", "path cache snapshot file (.db, .bolt or .json; empty disables)")
	flags.Int("cache-max-entries", 0, "maximum folders held in the path cache")
	flags.String("cache-max-age", "", "expire cached listings after this duration (0 disables)")
	flags.Bool("revalidate", false, "confirm every cache hit with a conditional request")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&flagWatch, "watch", false, "keep running and sync changes as they happen")

	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	sources, destID := args[:len(args)-1], args[len(args)-1]

	roots, err := sourceRoots(sources)
	if err != nil {
		return err
	}

	if flagWatch && len(roots) != 1 {
		return errors.New("--watch takes exactly one source")
	}

	cfg := resolvedCfg
	logger := buildLogger(os.Stderr)
	parent, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	ctx := drainOnSignal(parent, logger)

	sess, err := openSession(ctx, cfg, destID, logger)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			logger.Warn("failed to save cache snapshot", slog.String("error", closeErr.Error()))
		}
	}()

	observer := sync.Observer(sync.NopObserver{})

	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		observer = m

		stop, err := serveMetrics(cfg.Metrics.Addr, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	s := sync.New(sess.resolver, sync.Options{
		Workers:  cfg.Sync.Concurrency,
		Excludes: cfg.Sync.Excludes,
		Pretend:  cfg.Sync.DryRun,
		Observer: observer,
		Logger:   logger,
	})

	rep := newReporter(cmd.OutOrStdout(), flagJSON)

	if flagWatch {
		if err := watch(ctx, s, roots[0], cfg.Debounce, rep); err != nil {
			return err
		}
	} else {
		for _, root := range roots {
			for r := range s.Run(ctx, root) {
				rep.Collect(r)
			}
		}

		if err := rep.Flush(); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	statusf(flagQuiet, "%s\n", rep.summary.String())

	if interrupted(ctx) {
		statusf(flagQuiet, "interrupted; remaining entries were not synchronized\n")
	}

	if rep.summary.Failed() {
		return errSyncFailures
	}

	return nil
}

func watch(ctx context.Context, s *sync.Synchronizer, root string, debounce time.Duration, rep *reporter) error {
	w, err := newFsWatcher()
	if err != nil {
		return err
	}

	for r := range s.Watch(ctx, root, w, debounce) {
		if err := rep.Stream(r); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	return nil
}

// sourceRoots resolves sources to absolute directory paths.
func sourceRoots(sources []string) ([]string, error) {
	roots := make([]string, 0, len(sources))

	for _, src := range sources {
		abs, err := filepath.Abs(src)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", src, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", src, err)
		}

		if !info.IsDir() {
			return nil, fmt.Errorf("source %s is not a directory", src)
		}

		roots = append(roots, abs)
	}

	return roots, nil
}

// serveMetrics starts the metrics endpoint and returns a function that
// shuts it down.
func serveMetrics(addr string, m *metrics.Observer, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second} //nolint:mnd // header read bound

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}, nil
}

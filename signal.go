package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// errInterrupted is the cancellation cause of a run stopped by a signal.
var errInterrupted = errors.New("interrupted by signal")

// shutdownSignals stop a sync run.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// abortProcess ends the process on a second signal. Tests replace it.
var abortProcess = os.Exit

// drainOnSignal returns a context cancelled with errInterrupted by the
// first shutdown signal. The synchronizer then stops queueing entries and
// its workers finish the task in hand; runSync prints the partial report
// and the deferred session.Close saves the cache snapshot. A second signal
// during that drain exits at once and the snapshot is not written.
func drainOnSignal(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancelCause(parent)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, shutdownSignals...)

	go func() {
		defer signal.Stop(sigs)

		sig, ok := nextSignal(ctx.Done(), sigs)
		if !ok {
			return
		}

		logger.Info("stopping intake, finishing in-flight tasks before saving the cache snapshot",
			slog.String("signal", sig.String()),
		)
		cancel(errInterrupted)

		sig, ok = nextSignal(parent.Done(), sigs)
		if !ok {
			return
		}

		logger.Warn("second signal, exiting without saving the cache snapshot",
			slog.String("signal", sig.String()),
		)
		abortProcess(1)
	}()

	return ctx
}

// nextSignal waits for a signal until done closes.
func nextSignal(done <-chan struct{}, sigs <-chan os.Signal) (os.Signal, bool) {
	select {
	case sig := <-sigs:
		return sig, true
	case <-done:
		return nil, false
	}
}

// interrupted reports whether ctx was stopped by drainOnSignal.
func interrupted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errInterrupted)
}

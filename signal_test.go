package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"
)

func waitDone(t *testing.T, done <-chan struct{}, what string) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("context not canceled within 2 seconds of %s", what)
	}
}

func TestDrainOnSignal_FirstSignalCancelsWithCause(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := drainOnSignal(parent, slog.New(slog.DiscardHandler))

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("failed to send SIGINT: %v", err)
	}

	waitDone(t, ctx.Done(), "SIGINT")

	if !interrupted(ctx) {
		t.Fatalf("cause = %v, want errInterrupted", context.Cause(ctx))
	}
}

func TestDrainOnSignal_SecondSignalAborts(t *testing.T) {
	exited := make(chan int, 1)

	old := abortProcess
	abortProcess = func(code int) { exited <- code }

	t.Cleanup(func() { abortProcess = old })

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctx := drainOnSignal(parent, slog.New(slog.DiscardHandler))

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send SIGTERM: %v", err)
	}

	waitDone(t, ctx.Done(), "SIGTERM")

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("failed to send SIGINT: %v", err)
	}

	select {
	case code := <-exited:
		if code != 1 {
			t.Fatalf("exit code = %d, want 1", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not abort")
	}
}

func TestDrainOnSignal_ParentCancelIsNotAnInterrupt(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := drainOnSignal(parent, slog.New(slog.DiscardHandler))

	cancel()

	waitDone(t, ctx.Done(), "parent cancel")

	if interrupted(ctx) {
		t.Fatal("parent cancellation reported as a signal interrupt")
	}
}

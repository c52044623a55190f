//go:build e2e

// Package e2e drives the built binary against a live account. Every run
// writes under a fresh subfolder of the allowlisted test folder.
package e2e

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/naokikimura/carp-streamer/testutil"
)

var (
	binaryPath string
	testFolder string
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	testFolder = testutil.RequireTestFolder()

	tmpDir, err := os.MkdirTemp("", "carp-streamer-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	binaryPath = filepath.Join(tmpDir, "carp-streamer")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		return 1
	}

	restore, err := isolate(tmpDir, testutil.CredentialDir(root))
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	defer restore()

	return m.Run()
}

// isolate points HOME and the XDG directories at tmpDir and copies the
// bootstrapped token there. The returned function copies a rotated token
// back into credDir.
func isolate(tmpDir, credDir string) (func(), error) {
	for _, v := range []string{"CARP_STREAMER_CONFIG", "CARP_STREAMER_ACCESS_TOKEN"} {
		os.Unsetenv(v)
	}

	for v, sub := range map[string]string{
		"HOME":            "home",
		"XDG_CONFIG_HOME": "config",
		"XDG_DATA_HOME":   "data",
		"XDG_CACHE_HOME":  "cache",
	} {
		dir := filepath.Join(tmpDir, sub)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}

		os.Setenv(v, dir)
	}

	src := filepath.Join(credDir, testutil.TokenFileName)

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("reading %s (run go run ./cmd/integration-bootstrap): %w", src, err)
	}

	tokenPath := filepath.Join(tmpDir, "data", testutil.TokenFileName)
	if err := os.WriteFile(tokenPath, data, 0o600); err != nil {
		return nil, err
	}

	os.Setenv("CARP_STREAMER_TOKEN_FILE", tokenPath)

	return func() {
		rotated, err := os.ReadFile(tokenPath)
		if err != nil || bytes.Equal(rotated, data) {
			return
		}

		if err := os.WriteFile(src, rotated, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: cannot write rotated token back to %s: %v\n", src, err)
		}
	}, nil
}

// runCLI runs the binary and returns stdout, stderr, and the exit code.
func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("running %v: %v", args, err)
		}

		code = exitErr.ExitCode()
	}

	return stdout.String(), stderr.String(), code
}

// mustSync runs sync and fails the test unless it exits cleanly. It
// returns the status of every reported path, keyed by path relative to
// the source root.
func mustSync(t *testing.T, src string, extra ...string) map[string]string {
	t.Helper()

	args := append([]string{"sync"}, extra...)
	args = append(args, src, testFolder)

	stdout, stderr, code := runCLI(t, args...)
	if code != 0 {
		t.Fatalf("sync exited %d\nstdout: %s\nstderr: %s", code, stdout, stderr)
	}

	return parseReport(t, stdout, src)
}

func parseReport(t *testing.T, stdout, src string) map[string]string {
	t.Helper()

	out := make(map[string]string)

	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		if line == "" {
			continue
		}

		status, path, ok := strings.Cut(line, " ")
		if !ok {
			t.Fatalf("malformed report line %q", line)
		}

		rel, err := filepath.Rel(src, strings.TrimSpace(path))
		if err != nil {
			t.Fatalf("report path %q outside %s", path, src)
		}

		out[filepath.ToSlash(rel)] = status
	}

	return out
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naokikimura/carp-streamer/internal/cachestore"
	"github.com/naokikimura/carp-streamer/internal/config"
	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/remote/remotetest"
)

// useFakeRemote routes every session to srv for the duration of the test.
func useFakeRemote(t *testing.T, srv *remotetest.Server) {
	t.Helper()

	old := newRemoteClient
	newRemoteClient = func(*config.Resolved, *slog.Logger) (remote.Client, error) {
		return srv, nil
	}

	t.Cleanup(func() { newRemoteClient = old })
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())

	err := cmd.Execute()

	return out.String(), err
}

// sourceTree creates {b.txt, docs/, docs/a.txt} and returns its root.
func sourceTree(t *testing.T) string {
	t.Helper()

	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("bravo"), 0o644))

	return src
}

func TestSync_UploadsTreeAndPersistsCache(t *testing.T) {
	saveGlobals(t)
	dir := isolateEnv(t)

	srv := remotetest.New()
	useFakeRemote(t, srv)

	src := sourceTree(t)
	cacheFile := filepath.Join(dir, "cache.json")

	out, err := runCLI(t, "-q", "sync", src, remotetest.RootID, "--cache-file", cacheFile)
	require.NoError(t, err)

	assert.Equal(t,
		"UPLOADED     "+filepath.Join(src, "b.txt")+"\n"+
			"CREATED      "+filepath.Join(src, "docs")+"\n"+
			"UPLOADED     "+filepath.Join(src, "docs", "a.txt")+"\n",
		out)

	children := srv.Children(remotetest.RootID)
	require.Len(t, children, 2)

	store, err := cachestore.Open(context.Background(), cacheFile, nil)
	require.NoError(t, err)

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.Positive(t, snap.Len(), "snapshot saved on exit")

	out, err = runCLI(t, "-q", "sync", src, remotetest.RootID, "--cache-file", cacheFile)
	require.NoError(t, err)

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.True(t, strings.HasPrefix(line, "SYNCHRONIZED "), line)
	}

	assert.Len(t, srv.Children(remotetest.RootID), 2, "second run creates nothing")
}

func TestSync_DryRunMakesNoChanges(t *testing.T) {
	saveGlobals(t)
	isolateEnv(t)

	srv := remotetest.New()
	useFakeRemote(t, srv)

	src := sourceTree(t)

	out, err := runCLI(t, "-q", "sync", "--dry-run", "--cache-file", "", src, remotetest.RootID)
	require.NoError(t, err)

	assert.Contains(t, out, "CREATED      "+filepath.Join(src, "docs"))
	assert.Contains(t, out, "UPLOADED     "+filepath.Join(src, "b.txt"))
	assert.Empty(t, srv.Children(remotetest.RootID))
}

func TestSync_ExcludeFlag(t *testing.T) {
	saveGlobals(t)
	isolateEnv(t)

	srv := remotetest.New()
	useFakeRemote(t, srv)

	src := sourceTree(t)

	out, err := runCLI(t, "-q", "sync", "--exclude", "docs", "--cache-file", "", src, remotetest.RootID)
	require.NoError(t, err)

	assert.Contains(t, out, "EXCLUDED     "+filepath.Join(src, "docs"))

	children := srv.Children(remotetest.RootID)
	require.Len(t, children, 1)
	assert.Equal(t, "b.txt", children[0].Name)
}

func TestSync_FailureReturnsSentinel(t *testing.T) {
	saveGlobals(t)
	isolateEnv(t)

	srv := remotetest.New()
	useFakeRemote(t, srv)
	srv.FailNext(remotetest.MethodUploadSimple, remote.NewAPIError(http.StatusForbidden, "quota"))

	src := filepath.Join(t.TempDir(), "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644))

	out, err := runCLI(t, "-q", "sync", "--cache-file", "", src, remotetest.RootID)
	require.ErrorIs(t, err, errSyncFailures)
	assert.Contains(t, out, "FAILURE      "+filepath.Join(src, "a.txt"))
}

func TestSync_JSONOutput(t *testing.T) {
	saveGlobals(t)
	isolateEnv(t)

	srv := remotetest.New()
	useFakeRemote(t, srv)

	src := sourceTree(t)

	out, err := runCLI(t, "-q", "--json", "sync", "--cache-file", "", src, remotetest.RootID)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var first resultJSON
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "b.txt", first.RelPath)
	assert.NotEmpty(t, first.RunID)
	assert.NotEmpty(t, first.RemoteID)
}

func TestSync_MultipleSources(t *testing.T) {
	saveGlobals(t)
	isolateEnv(t)

	srv := remotetest.New()
	useFakeRemote(t, srv)

	first := sourceTree(t)
	second := filepath.Join(t.TempDir(), "other")
	require.NoError(t, os.MkdirAll(second, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(second, "c.txt"), []byte("charlie"), 0o644))

	_, err := runCLI(t, "-q", "sync", "--cache-file", "", first, second, remotetest.RootID)
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for _, e := range srv.Children(remotetest.RootID) {
		names = append(names, e.Name)
	}

	assert.ElementsMatch(t, []string{"b.txt", "c.txt", "docs"}, names)
}

func TestSync_ArgumentErrors(t *testing.T) {
	saveGlobals(t)
	isolateEnv(t)

	useFakeRemote(t, remotetest.New())

	src := sourceTree(t)
	file := filepath.Join(src, "b.txt")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing destination", []string{"sync", src}, "requires at least 2 arg(s)"},
		{"source is a file", []string{"sync", file, "0"}, "is not a directory"},
		{"source missing", []string{"sync", filepath.Join(src, "nope"), "0"}, "no such file"},
		{"watch with two sources", []string{"sync", "--watch", src, src, "0"}, "exactly one source"},
		{"unknown destination", []string{"sync", "--cache-file", "", src, "404"}, "opening destination folder 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"-q"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSourceRoots_MakesAbsolute(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.Mkdir("rel", 0o755))

	roots, err := sourceRoots([]string{"rel"})
	require.NoError(t, err)
	require.Len(t, roots, 1)

	assert.True(t, filepath.IsAbs(roots[0]))
	assert.Equal(t, "rel", filepath.Base(roots[0]))
}

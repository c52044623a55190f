package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/sync"
)

func TestFormatAge(t *testing.T) {
	now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"seconds", now.Add(-42 * time.Second), "42s ago"},
		{"hours", now.Add(-90 * time.Minute), "1h30m0s ago"},
		{"rounded", now.Add(-1500 * time.Millisecond), "2s ago"},
		{"future clamps to zero", now.Add(time.Minute), "0s ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatAge(tt.t, now))
		})
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf, []string{"PARENT", "ENTITIES", "STORED"}, [][]string{
		{"0", "12", "5s ago"},
		{"123456", "3", "1m0s ago"},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)

	assert.Equal(t, "PARENT  ENTITIES  STORED", lines[0])
	assert.Equal(t, "0       12        5s ago", lines[1])
	assert.Equal(t, "123456  3         1m0s ago", lines[2])
}

func TestReporter_FlushSortsByPath(t *testing.T) {
	var buf bytes.Buffer

	rep := newReporter(&buf, false)
	rep.Collect(sync.Result{Path: "/src/b.txt", Status: sync.StatusUploaded})
	rep.Collect(sync.Result{Path: "/src/a", Status: sync.StatusCreated})
	rep.Collect(sync.Result{Path: "/src/a/c.txt", Status: sync.StatusFailure, Err: errors.New("boom")})

	assert.Empty(t, buf.String(), "Collect must not print")

	require.NoError(t, rep.Flush())

	assert.Equal(t,
		"CREATED      /src/a\n"+
			"FAILURE      /src/a/c.txt: boom\n"+
			"UPLOADED     /src/b.txt\n",
		buf.String())

	assert.Equal(t, 3, rep.summary.Total())
	assert.True(t, rep.summary.Failed())
}

func TestReporter_StreamJSON(t *testing.T) {
	var buf bytes.Buffer

	entity := remote.NewFile("f1", "a.txt", "1", "0", "abc", 3)

	rep := newReporter(&buf, true)
	require.NoError(t, rep.Stream(sync.Result{
		RunID:    "run-1",
		Path:     "/src/a.txt",
		RelPath:  "a.txt",
		Status:   sync.StatusUpgraded,
		Entity:   &entity,
		Duration: 1500 * time.Millisecond,
	}))
	require.NoError(t, rep.Stream(sync.Result{
		Path:   "/src/b.txt",
		Status: sync.StatusDenied,
		Err:    errors.New("permission denied"),
	}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "run-1", first["run_id"])
	assert.Equal(t, "a.txt", first["rel_path"])
	assert.Equal(t, "UPGRADED", first["status"])
	assert.Equal(t, "f1", first["remote_id"])
	assert.InDelta(t, 1500, first["duration_ms"], 0)
	assert.NotContains(t, first, "error")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "DENIED", second["status"])
	assert.Equal(t, "permission denied", second["error"])
	assert.NotContains(t, second, "remote_id")

	assert.Equal(t, 1, rep.summary.Count(sync.StatusDenied))
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/naokikimura/carp-streamer/internal/sync"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatAge returns a compact "time since" string for display.
func formatAge(t, now time.Time) string {
	d := now.Sub(t).Round(time.Second)
	if d < 0 {
		d = 0
	}

	return d.String() + " ago"
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row. The last column is not padded.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}

		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}

// resultJSON is the JSON-lines form of one sync result.
type resultJSON struct {
	RunID      string      `json:"run_id"`
	Path       string      `json:"path"`
	RelPath    string      `json:"rel_path"`
	Status     sync.Status `json:"status"`
	Error      string      `json:"error,omitempty"`
	RemoteID   string      `json:"remote_id,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// reporter renders sync results, either as they arrive or collected and
// sorted by path, and keeps the summary.
type reporter struct {
	w       io.Writer
	json    bool
	results []sync.Result
	summary sync.Summary
}

func newReporter(w io.Writer, asJSON bool) *reporter {
	return &reporter{w: w, json: asJSON}
}

// Stream records and prints r immediately.
func (rp *reporter) Stream(r sync.Result) error {
	rp.summary.Add(r)

	return rp.print(r)
}

// Collect records r for Flush.
func (rp *reporter) Collect(r sync.Result) {
	rp.summary.Add(r)
	rp.results = append(rp.results, r)
}

// Flush prints the collected results sorted by path.
func (rp *reporter) Flush() error {
	slices.SortStableFunc(rp.results, func(a, b sync.Result) int {
		return strings.Compare(a.Path, b.Path)
	})

	for _, r := range rp.results {
		if err := rp.print(r); err != nil {
			return err
		}
	}

	rp.results = nil

	return nil
}

func (rp *reporter) print(r sync.Result) error {
	if rp.json {
		out := resultJSON{
			RunID:      r.RunID,
			Path:       r.Path,
			RelPath:    r.RelPath,
			Status:     r.Status,
			DurationMS: r.Duration.Milliseconds(),
		}

		if r.Err != nil {
			out.Error = r.Err.Error()
		}

		if r.Entity != nil {
			out.RemoteID = r.Entity.ID
		}

		return json.NewEncoder(rp.w).Encode(out)
	}

	line := fmt.Sprintf("%-12s %s", r.Status, r.Path)
	if r.Err != nil {
		line += ": " + r.Err.Error()
	}

	_, err := fmt.Fprintln(rp.w, line)

	return err
}

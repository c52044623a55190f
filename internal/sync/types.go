package sync

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/walker"
)

// Status is the terminal outcome of one task.
type Status int

const (
	StatusUnknown Status = iota
	StatusFailure
	StatusDenied
	StatusExcluded
	// StatusDownloaded is reserved for remote-to-local transfers, which
	// the upload path never produces.
	StatusDownloaded
	StatusSynchronized
	StatusUploaded
	StatusUpgraded
	StatusCreated
)

var statusNames = [...]string{
	StatusUnknown:      "UNKNOWN",
	StatusFailure:      "FAILURE",
	StatusDenied:       "DENIED",
	StatusExcluded:     "EXCLUDED",
	StatusDownloaded:   "DOWNLOADED",
	StatusSynchronized: "SYNCHRONIZED",
	StatusUploaded:     "UPLOADED",
	StatusUpgraded:     "UPGRADED",
	StatusCreated:      "CREATED",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}

	return fmt.Sprintf("STATUS(%d)", int(s))
}

// MarshalText renders the status name, for JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if strings.EqualFold(n, name) {
			return Status(i), nil
		}
	}

	return StatusUnknown, fmt.Errorf("sync: unknown status %q", name)
}

// Task is one walked entry awaiting a decision. Each task is consumed by
// exactly one worker.
type Task struct {
	Entry walker.Entry

	// Root is the local directory the entry was walked from.
	Root string

	// RelPath is Entry.Path relative to Root, slash separated and NFC
	// normalized. Empty when it could not be computed.
	RelPath string

	Excludes Excludes
	Pretend  bool
}

// Result is the outcome reported once per task.
type Result struct {
	RunID    string
	Path     string
	RelPath  string
	Status   Status
	Err      error
	Entity   *remote.Entity
	Duration time.Duration
}

// Observer receives task lifecycle events. Calls arrive concurrently from
// worker goroutines.
type Observer interface {
	TaskStarted(t Task)
	TaskCompleted(r Result)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) TaskStarted(Task)     {}
func (NopObserver) TaskCompleted(Result) {}

type multiObserver []Observer

func (m multiObserver) TaskStarted(t Task) {
	for _, o := range m {
		o.TaskStarted(t)
	}
}

func (m multiObserver) TaskCompleted(r Result) {
	for _, o := range m {
		o.TaskCompleted(r)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	var m multiObserver

	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}

	if len(m) == 1 {
		return m[0]
	}

	return m
}

// Summary counts results per status.
type Summary struct {
	counts map[Status]int
	total  int
}

// Add records one result.
func (s *Summary) Add(r Result) {
	if s.counts == nil {
		s.counts = make(map[Status]int)
	}

	s.counts[r.Status]++
	s.total++
}

// Count returns the number of results with status st.
func (s *Summary) Count(st Status) int { return s.counts[st] }

// Total returns the number of results recorded.
func (s *Summary) Total() int { return s.total }

// Failed reports whether any task ended in FAILURE.
func (s *Summary) Failed() bool { return s.counts[StatusFailure] > 0 }

// Counts returns a copy of the per-status counts.
func (s *Summary) Counts() map[Status]int {
	out := make(map[Status]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}

	return out
}

// String renders non-zero counts in status order, e.g.
// "3 total: 1 UPLOADED, 2 CREATED".
func (s *Summary) String() string {
	statuses := make([]Status, 0, len(s.counts))
	for st, n := range s.counts {
		if n > 0 {
			statuses = append(statuses, st)
		}
	}

	slices.Sort(statuses)

	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", s.counts[st], st))
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%d total", s.total)
	}

	return fmt.Sprintf("%d total: %s", s.total, strings.Join(parts, ", "))
}

package pipeline

import (
	"fmt"
	"time"
)

// State is the terminal outcome recorded for a directory in this run.
type State string

const (
	StateNoImages      State = "no_images"
	StateFailed        State = "failed"
	StatePackaged      State = "packaged"
	StateNotPackaged   State = "not_packaged"
	StatePackageFailed State = "package_failed"
	StateVanished      State = "vanished"
	StateInterrupted   State = "interrupted"
)

// DirReport summarizes one directory.
type DirReport struct {
	Dir            string
	State          State
	Converted      int
	Kept           int
	Unsupported    int
	Vanished       int
	Failed         int
	Archive        string
	Archived       int
	SourcesRemoved int
	DirRemoved     bool
	// Pending is set when the directory was not marked done and will be
	// retried by the next run.
	Pending bool
	Elapsed time.Duration
}

// Summary aggregates a whole run.
type Summary struct {
	RunID            string
	Root             string
	Discovered       int
	AlreadyDone      int
	Excluded         int
	Directories      []DirReport
	DiscoveryElapsed time.Duration
	Elapsed          time.Duration
	Interrupted      bool
}

// Totals tracks aggregate counters across a run.
type Totals struct {
	Directories int
	Converted   int
	Kept        int
	Unsupported int
	Vanished    int
	Failed      int
	Archives    int
	DirsRemoved int
	FailedDirs  int
}

// Totals sums the per-directory reports.
func (s Summary) Totals() Totals {
	var t Totals
	for _, d := range s.Directories {
		if d.State == StateInterrupted {
			continue
		}
		t.Directories++
		t.Converted += d.Converted
		t.Kept += d.Kept
		t.Unsupported += d.Unsupported
		t.Vanished += d.Vanished
		t.Failed += d.Failed
		if d.Archive != "" {
			t.Archives++
		}
		if d.DirRemoved {
			t.DirsRemoved++
		}
		if d.State == StateFailed || d.State == StatePackageFailed {
			t.FailedDirs++
		}
	}
	return t
}

// FormatDuration renders d as HH:MM:SS.mmm.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	hours := ms / 3_600_000
	ms %= 3_600_000
	minutes := ms / 60_000
	ms %= 60_000
	seconds := ms / 1000
	ms %= 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, ms)
}

package convert

import (
	"time"

	"jxlpack/internal/collision"
	"jxlpack/internal/encoder"
	"jxlpack/internal/imageformat"
)

// Status is the per-file result of a conversion pass.
type Status int

const (
	// Converted: a new output was written.
	Converted Status = iota
	// Kept: the file is already JPEG XL and is packaged as-is.
	Kept
	// Unsupported: not an image this pipeline handles; left untouched.
	Unsupported
	// Vanished: the file disappeared before it could be handled.
	Vanished
	// Failed: the encoder or reconciliation failed.
	Failed
)

func (s Status) String() string {
	switch s {
	case Converted:
		return "converted"
	case Kept:
		return "kept"
	case Unsupported:
		return "unsupported"
	case Vanished:
		return "vanished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is produced once per file per run and never persisted.
type Outcome struct {
	Source      string
	Kind        imageformat.Kind
	Status      Status
	Output      string
	Reservation collision.Reservation
	Reconcile   *collision.Outcome
	Encoder     encoder.Result
	Duration    time.Duration
	Err         error
}

// DirResult collects every outcome for one directory.
type DirResult struct {
	Dir      string
	Outcomes []Outcome
	Elapsed  time.Duration
}

// AnyFailed reports whether at least one file failed.
func (r DirResult) AnyFailed() bool {
	for _, o := range r.Outcomes {
		if o.Status == Failed {
			return true
		}
	}
	return false
}

// Failures returns the failed outcomes.
func (r DirResult) Failures() []Outcome {
	return r.filter(Failed)
}

// Count returns how many outcomes have status s.
func (r DirResult) Count(s Status) int {
	return len(r.filter(s))
}

func (r DirResult) filter(s Status) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == s {
			out = append(out, o)
		}
	}
	return out
}

// Accepted returns the files to package: every converted output and every
// kept JPEG XL file, once each. Kept files that reconciliation removed as
// duplicates of a new output are dropped.
func (r DirResult) Accepted() []string {
	removed := map[string]struct{}{}
	for _, o := range r.Outcomes {
		if o.Reconcile == nil {
			continue
		}
		for _, p := range o.Reconcile.Removed {
			removed[p] = struct{}{}
		}
	}

	seen := map[string]struct{}{}
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, o := range r.Outcomes {
		switch o.Status {
		case Converted:
			add(o.Output)
		case Kept:
			if _, gone := removed[o.Output]; gone {
				continue
			}
			add(o.Output)
		}
	}
	return out
}

// ConvertedSources returns the originals whose conversion succeeded.
func (r DirResult) ConvertedSources() []string {
	var out []string
	for _, o := range r.Converted() {
		out = append(out, o.Source)
	}
	return out
}

// Converted returns the successfully converted outcomes.
func (r DirResult) Converted() []Outcome {
	return r.filter(Converted)
}

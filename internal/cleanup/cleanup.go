// Package cleanup applies the per-directory deletion policy once conversion
// and packaging have finished.
//
// A directory with any failed conversion keeps everything. Otherwise source
// images that converted successfully may be removed, and a packaged
// directory may be removed as a whole, but only when nothing is left in it
// besides those converted sources.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Options are the configured cleanup switches.
type Options struct {
	DeleteSourceImage bool
	DeleteFolder      bool
}

// Gates are the switches in effect for one directory.
type Gates struct {
	DeleteSources bool
	DeleteFolder  bool
}

// Decide applies the failure containment rule: any failure disables both
// deletions, and folder deletion additionally requires that the directory's
// outputs were packaged.
func Decide(opts Options, anyFailed, packaged bool) Gates {
	if anyFailed {
		return Gates{}
	}
	return Gates{
		DeleteSources: opts.DeleteSourceImage,
		DeleteFolder:  opts.DeleteFolder && packaged,
	}
}

// Request describes one directory's cleanup.
type Request struct {
	Dir   string
	Gates Gates
	// Sources are the originals whose conversion succeeded.
	Sources []string
}

// Report records what cleanup did.
type Report struct {
	RemovedSources []string
	MissingSources []string
	SourceErrors   map[string]error
	DirRemoved     bool
	// DirBlockers lists entries that kept the directory from being removed.
	DirBlockers []string
	DirErr      error
}

// Cleaner applies Requests with a Remover.
type Cleaner struct {
	remover Remover
}

// New returns a Cleaner.
func New(remover Remover) *Cleaner {
	return &Cleaner{remover: remover}
}

// Reversible reports whether removals go to the trash.
func (c *Cleaner) Reversible() bool {
	return c.remover != nil && c.remover.Reversible()
}

// Apply performs the gated deletions. Individual failures are collected in
// the report; cleanup never aborts half way through the source list.
func (c *Cleaner) Apply(ctx context.Context, req Request) Report {
	var report Report
	if c.remover == nil {
		return report
	}

	if req.Gates.DeleteSources {
		for _, src := range req.Sources {
			if ctx.Err() != nil {
				break
			}
			err := c.remover.RemoveFile(src)
			switch {
			case err == nil:
				report.RemovedSources = append(report.RemovedSources, src)
			case errors.Is(err, os.ErrNotExist):
				report.MissingSources = append(report.MissingSources, src)
			default:
				if report.SourceErrors == nil {
					report.SourceErrors = map[string]error{}
				}
				report.SourceErrors[src] = err
			}
		}
	}

	if !req.Gates.DeleteFolder || ctx.Err() != nil {
		return report
	}
	if len(report.SourceErrors) > 0 {
		report.DirErr = fmt.Errorf("%d source(s) could not be removed", len(report.SourceErrors))
		return report
	}

	blockers, err := blockers(req.Dir, req.Sources)
	if err != nil {
		report.DirErr = err
		return report
	}
	if len(blockers) > 0 {
		report.DirBlockers = blockers
		return report
	}
	if err := c.remover.RemoveDir(req.Dir); err != nil {
		report.DirErr = err
		return report
	}
	report.DirRemoved = true
	return report
}

// blockers returns the entries of dir that are not converted sources.
func blockers(dir string, sources []string) ([]string, error) {
	allowed := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		allowed[filepath.Clean(s)] = struct{}{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.Type().IsRegular() {
			if _, ok := allowed[path]; ok {
				continue
			}
		}
		out = append(out, path)
	}
	sort.Strings(out)
	return out, nil
}

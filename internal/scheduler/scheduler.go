// Package scheduler discovers the directories under a root, drops the ones
// the worklist already marks done, and orders the rest deepest first so
// every child is packaged before its parent is looked at.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Ledger is the slice of the worklist the scheduler needs.
type Ledger interface {
	EnsureAll(ctx context.Context, paths []string) (map[string]bool, error)
}

// Plan is the outcome of one discovery pass.
type Plan struct {
	// Pending lists the directories to process, deepest first.
	Pending []string
	// Done lists directories skipped because an earlier run completed them.
	Done []string
	// Excluded lists directories pruned by exclude patterns.
	Excluded []string
	// Unreadable lists directories whose children could not be listed.
	Unreadable map[string]error
	// Elapsed is how long discovery took.
	Elapsed time.Duration
}

// Discover walks root and returns every directory (root included) that is
// not matched by an exclude pattern. Patterns use doublestar syntax and are
// matched against the slash-separated path relative to root; a matching
// directory is pruned along with everything below it.
func Discover(root string, exclude []string) (dirs, excluded []string, unreadable map[string]error, err error) {
	unreadable = map[string]error{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return err
			}
			unreadable[path] = err
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				return relErr
			}
			if matchesAny(exclude, filepath.ToSlash(rel)) {
				excluded = append(excluded, path)
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, path)
		return nil
	})
	if walkErr != nil {
		return nil, nil, nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}
	return dirs, excluded, unreadable, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Schedule discovers directories under root, records new ones in the ledger
// as pending, and returns the pending set ordered deepest first.
func Schedule(ctx context.Context, root string, exclude []string, ledger Ledger) (Plan, error) {
	if ledger == nil {
		return Plan{}, errors.New("scheduler: ledger is nil")
	}
	start := time.Now()

	dirs, excluded, unreadable, err := Discover(root, exclude)
	if err != nil {
		return Plan{}, err
	}
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}

	states, err := ledger.EnsureAll(ctx, dirs)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Excluded: excluded, Unreadable: unreadable}
	for _, dir := range dirs {
		if states[dir] {
			plan.Done = append(plan.Done, dir)
			continue
		}
		plan.Pending = append(plan.Pending, dir)
	}
	Order(plan.Pending)
	plan.Elapsed = time.Since(start)
	return plan, nil
}

// Depth is the number of path components in path.
func Depth(path string) int {
	cleaned := filepath.Clean(path)
	trimmed := strings.Trim(filepath.ToSlash(cleaned), "/")
	if trimmed == "" || trimmed == "." {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}

// Order sorts paths by depth descending, then lexically for a stable run
// order among siblings.
func Order(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		di, dj := Depth(paths[i]), Depth(paths[j])
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
}

package collision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"jxlpack/internal/fileutil"
	"jxlpack/internal/services"
)

// MaxCandidates bounds the numbered names tried for one canonical path.
const MaxCandidates = 10000

// CandidatePath returns member i of the collision set for canonical. Index 0
// is canonical itself.
func CandidatePath(canonical string, i int) string {
	if i == 0 {
		return canonical
	}
	dir := filepath.Dir(canonical)
	base := filepath.Base(canonical)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s(%d)%s", stem, i, ext))
}

// Reservation is a free output slot handed out by a Resolver.
type Reservation struct {
	// Canonical is the unsuffixed target P.
	Canonical string
	// Path is the slot the encoder must write to.
	Path string
	// Index is the suffix number of Path; 0 means Path == Canonical.
	Index int
	// Priors are the lower indices that were occupied on disk when the slot
	// was reserved, in descending order.
	Priors []int
}

// Collided reports whether the canonical name was already taken.
func (r Reservation) Collided() bool {
	return r.Index > 0
}

// Resolver hands out distinct output slots. All methods are goroutine-safe.
type Resolver struct {
	mu       sync.Mutex
	reserved map[string]struct{}
	claimed  map[string]struct{}
	exists   func(string) bool
}

// NewResolver creates a ready-to-use resolver that checks the filesystem.
func NewResolver() *Resolver {
	return &Resolver{
		reserved: make(map[string]struct{}),
		claimed:  make(map[string]struct{}),
		exists:   fileutil.Exists,
	}
}

// Reserve tries P, P(1), P(2), ... and claims the first member that is free
// both on disk and among earlier reservations. An on-disk member becomes a
// prior of at most one reservation per run, so two outputs sharing a
// canonical name never reconcile against the same file.
func (r *Resolver) Reserve(canonical string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var onDisk []int
	for i := 0; i <= MaxCandidates; i++ {
		candidate := CandidatePath(canonical, i)
		if _, taken := r.reserved[candidate]; taken {
			continue
		}
		if r.exists(candidate) {
			if _, owned := r.claimed[candidate]; !owned {
				onDisk = append(onDisk, i)
			}
			continue
		}
		r.reserved[candidate] = struct{}{}
		for _, j := range onDisk {
			r.claimed[CandidatePath(canonical, j)] = struct{}{}
		}
		priors := make([]int, 0, len(onDisk))
		for j := len(onDisk) - 1; j >= 0; j-- {
			priors = append(priors, onDisk[j])
		}
		return Reservation{
			Canonical: canonical,
			Path:      candidate,
			Index:     i,
			Priors:    priors,
		}, nil
	}
	return Reservation{}, services.Wrap(
		services.ErrValidation,
		"collision",
		"reserve",
		fmt.Sprintf("no free name for %s within %d candidates", canonical, MaxCandidates),
		nil,
	)
}

// Release forgets a reservation whose slot was never written.
func (r *Resolver) Release(res Reservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, res.Path)
}

// Outcome summarizes a reconciliation pass.
type Outcome struct {
	// Final is where the new output lives afterwards.
	Final string
	// Removed lists priors deleted as exact duplicates.
	Removed []string
	// Conflicts lists priors kept because their content differs.
	Conflicts []string
	// Vanished lists priors that disappeared before they could be compared.
	Vanished []string
	// Promoted is true when the new output was moved onto the canonical path.
	Promoted bool
}

// Reconcile compares the freshly written output at res.Path against the
// reservation's priors. See the package documentation for the rules.
func Reconcile(res Reservation) (Outcome, error) {
	out := Outcome{Final: res.Path}
	if !res.Collided() || len(res.Priors) == 0 {
		return out, nil
	}

	fresh, err := fileutil.FingerprintFile(res.Path)
	if err != nil {
		return out, services.Wrap(services.ErrTransient, "collision", "fingerprint output", res.Path, err)
	}

	canonicalFreed := false
	for _, idx := range res.Priors {
		candidate := CandidatePath(res.Canonical, idx)
		existing, err := fileutil.FingerprintFile(candidate)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				out.Vanished = append(out.Vanished, candidate)
				continue
			}
			return out, services.Wrap(services.ErrTransient, "collision", "fingerprint prior", candidate, err)
		}
		if existing != fresh {
			out.Conflicts = append(out.Conflicts, candidate)
			continue
		}
		if err := os.Remove(candidate); err != nil && !errors.Is(err, os.ErrNotExist) {
			return out, services.Wrap(services.ErrTransient, "collision", "remove duplicate", candidate, err)
		}
		out.Removed = append(out.Removed, candidate)
		if idx == 0 {
			canonicalFreed = true
		}
	}

	if canonicalFreed {
		if err := os.Rename(res.Path, res.Canonical); err != nil {
			return out, services.Wrap(services.ErrTransient, "collision", "promote output", res.Canonical, err)
		}
		out.Final = res.Canonical
		out.Promoted = true
	}
	return out, nil
}

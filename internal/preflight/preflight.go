package preflight

import (
	"errors"
	"path/filepath"
	"strings"

	"jxlpack/internal/config"
	"jxlpack/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// ErrEmptyRoot is returned when no root directory was supplied.
var ErrEmptyRoot = errors.New("no directory given")

// CleanInput strips whitespace and every single or double quote character
// from a path typed or pasted by the user.
func CleanInput(raw string) string {
	cleaned := strings.NewReplacer(`"`, "", `'`, "").Replace(raw)
	return strings.TrimSpace(cleaned)
}

// ResolveRoot turns user input into an absolute, existing root directory.
// Rejections are validation errors so the prompt can ask again.
func ResolveRoot(raw string) (string, error) {
	cleaned := CleanInput(raw)
	if cleaned == "" {
		return "", services.Wrap(services.ErrValidation, "preflight", "resolve root", "empty input", ErrEmptyRoot)
	}
	expanded, err := config.ExpandPath(cleaned)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "preflight", "resolve root", "expand path", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "preflight", "resolve root", "absolute path", err)
	}
	result := CheckDirectoryAccess("Root directory", abs)
	if !result.Passed {
		return "", services.Wrap(services.ErrValidation, "preflight", "resolve root", result.Detail, nil)
	}
	return abs, nil
}

// RunAll executes the directory checks a run needs: the root plus the
// configured state and log directories.
func RunAll(root string, cfg *config.Config) []Result {
	results := []Result{CheckDirectoryAccess("Root directory", root)}
	if cfg == nil {
		return results
	}
	if cfg.StateDir != "" {
		results = append(results, CheckDirectoryAccess("State directory", cfg.StateDir))
	}
	if cfg.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.LogDir))
	}
	return results
}

// FirstFailure returns a configuration error for the first failed result.
func FirstFailure(results []Result) error {
	for _, r := range results {
		if !r.Passed {
			return services.Wrap(services.ErrConfiguration, "preflight", "check "+strings.ToLower(r.Name), r.Detail, nil)
		}
	}
	return nil
}

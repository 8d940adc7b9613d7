package deps

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"jxlpack/internal/config"
	"jxlpack/internal/services"
)

// Requirement defines an external dependency jxlpack relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = resolved
		results = append(results, status)
	}
	return results
}

// Requirements lists the binaries a run needs for the given configuration.
func Requirements(cfg *config.Config) []Requirement {
	encoder := ""
	if cfg != nil {
		encoder = cfg.Encoder
	}
	return []Requirement{
		{
			Name:        "JPEG XL encoder",
			Command:     encoder,
			Description: "Required for PNG and JPEG conversion",
		},
	}
}

// RequireAll returns a configuration error naming every missing required
// binary. Optional requirements never fail.
func RequireAll(cfg *config.Config) error {
	var missing []error
	for _, status := range CheckBinaries(Requirements(cfg)) {
		if status.Available || status.Optional {
			continue
		}
		missing = append(missing, fmt.Errorf("%s: %s", status.Name, status.Detail))
	}
	if len(missing) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "deps", "check binaries", "required binary unavailable", errors.Join(missing...))
}

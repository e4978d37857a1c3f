// Package deps reports the availability of the external media tools the
// coordinator and workers shell out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"swarmenc/internal/config"
)

// Requirement defines one external binary dependency.
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
	Detail      string
}

// Required builds the requirement list from the configured tool paths.
func Required(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "FFmpeg", Command: cfg.Worker.FFmpeg, Description: "Scene splitting, pipe decoding, and output joining"},
		{Name: "FFprobe", Command: cfg.Worker.FFprobe, Description: "Frame and packet counting"},
		{Name: "aomenc", Command: cfg.Worker.Aomenc, Description: "AV1 encoding"},
		{Name: "vpxenc", Command: cfg.Worker.Vpxenc, Description: "VP9 encoding", Optional: true},
		{Name: "dav1d", Command: cfg.Worker.Dav1d, Description: "AV1 upload verification"},
	}
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
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}

// MissingRequired returns the names of unavailable non-optional tools.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}

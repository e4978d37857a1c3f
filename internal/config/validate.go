package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants shared by both binaries.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StateDir) == "" {
		problems = append(problems, "paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		problems = append(problems, "paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Server.Bind) == "" {
		problems = append(problems, "server.bind must be set")
	}
	if c.Server.MinFrames > 0 && c.Server.MaxFrames > 0 && c.Server.MinFrames > c.Server.MaxFrames {
		problems = append(problems, "server.min_frames must not exceed server.max_frames")
	}
	if c.Worker.Workers < 0 {
		problems = append(problems, "worker.workers must not be negative")
	}
	if c.Worker.Threads <= 0 {
		problems = append(problems, "worker.threads must be positive")
	}
	if c.Worker.Target != "" && !strings.HasPrefix(c.Worker.Target, "http://") && !strings.HasPrefix(c.Worker.Target, "https://") {
		problems = append(problems, "worker.target must be an http(s) URL")
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q is not supported", c.Logging.Format))
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

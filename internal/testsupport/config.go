// Package testsupport provides shared helpers for package tests: temp-dir
// configs, project stores, registries with stub collaborators, and file
// fixtures.
package testsupport

import (
	"path/filepath"
	"testing"

	"swarmenc/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Server.Bind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return &cfg
}

// WithEncoderVersion pins an encoder version gate on the test config.
func WithEncoderVersion(encoder, version string) ConfigOption {
	return func(cfg *config.Config) {
		if cfg.Server.EncoderVersions == nil {
			cfg.Server.EncoderVersions = make(map[string]string)
		}
		cfg.Server.EncoderVersions[encoder] = version
	}
}

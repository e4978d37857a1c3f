package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration shared by the coordinator and worker.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	WorkDir   string `toml:"work_dir"`
}

// Server contains coordinator daemon configuration.
type Server struct {
	Bind            string            `toml:"bind"`
	MinFrames       int               `toml:"min_frames"`
	MaxFrames       int               `toml:"max_frames"`
	EncoderVersions map[string]string `toml:"encoder_versions"`
}

// Worker contains worker pool configuration.
type Worker struct {
	Target  string `toml:"target"`
	Workers int    `toml:"workers"`
	Threads int    `toml:"threads"`
	Aomenc  string `toml:"aomenc"`
	Vpxenc  string `toml:"vpxenc"`
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	Dav1d   string `toml:"dav1d"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for swarmenc.
//
// Configuration sections by subsystem:
//   - Paths: state, output, log, and scratch directories
//   - Server: coordinator bind address, split constraints, version gates
//   - Worker: coordinator target, pool sizing, encoder tool paths
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Server  Server  `toml:"server"`
	Worker  Worker  `toml:"worker"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/swarmenc/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded. When path is empty the default
// location is consulted; a missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}

	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(expanded); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	return expanded, true, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	fields := []*string{
		&c.Paths.StateDir,
		&c.Paths.OutputDir,
		&c.Paths.LogDir,
		&c.Paths.WorkDir,
	}
	for _, field := range fields {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Worker.Target = strings.TrimRight(strings.TrimSpace(c.Worker.Target), "/")
	return nil
}

// EnsureDirectories creates the directories the process relies on.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.StateDir,
		c.Paths.OutputDir,
		c.Paths.LogDir,
		c.Paths.WorkDir,
		c.SplitRoot(),
		c.EncodeRoot(),
		c.GrainRoot(),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SplitRoot returns the directory holding per-project split segments.
func (c *Config) SplitRoot() string {
	return filepath.Join(c.Paths.StateDir, "splits")
}

// EncodeRoot returns the directory holding per-project encoded scenes.
func (c *Config) EncodeRoot() string {
	return filepath.Join(c.Paths.StateDir, "encodes")
}

// GrainRoot returns the directory holding per-project grain tables.
func (c *Config) GrainRoot() string {
	return filepath.Join(c.Paths.StateDir, "grain")
}

// DatabasePath returns the project store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "projects.db")
}

// LockFilePath returns the coordinator single-instance lock location.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.StateDir, "swarmencd.lock")
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", trimmed, err)
	}
	return abs, nil
}

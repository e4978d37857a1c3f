// Package concat joins encoded scene files into the final output using the
// ffmpeg concat demuxer.
package concat

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// FFmpegConcat performs scene-ordered stream-copy concatenation.
type FFmpegConcat struct {
	binary string
}

// NewFFmpegConcat constructs a concatenator. An empty binary falls back to
// "ffmpeg".
func NewFFmpegConcat(binary string) *FFmpegConcat {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegConcat{binary: binary}
}

// Concat joins the given files, in order, into output.
func (c *FFmpegConcat) Concat(ctx context.Context, files []string, output string) error {
	if len(files) == 0 {
		return fmt.Errorf("concat: no input files")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	list, err := os.CreateTemp(filepath.Dir(output), "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	listPath := list.Name()
	defer os.Remove(listPath)

	var b strings.Builder
	for _, file := range files {
		fmt.Fprintf(&b, "file '%s'\n", filepath.ToSlash(file))
	}
	if _, err := list.WriteString(b.String()); err != nil {
		list.Close()
		return fmt.Errorf("write concat list: %w", err)
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binary,
		"-hide_banner",
		"-f", "concat",
		"-safe", "0",
		"-y",
		"-i", listPath,
		"-c", "copy",
		output)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg concat: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

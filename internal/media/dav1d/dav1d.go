// Package dav1d verifies AV1 artifacts by decoding them with the dav1d
// reference decoder and reporting how many frames actually decode.
package dav1d

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var decodedPattern = regexp.MustCompile(`Decoded [0-9]+/([0-9]+) frames`)

// Decoder runs dav1d against encoded scenes.
type Decoder struct {
	binary string
}

// NewDecoder constructs a Decoder. An empty binary falls back to "dav1d".
func NewDecoder(binary string) *Decoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "dav1d"
	}
	return &Decoder{binary: binary}
}

// DecodedFrames decodes the whole artifact and returns the frame total dav1d
// reports. A non-zero exit or unparseable output is a decode failure.
func (d *Decoder) DecodedFrames(ctx context.Context, path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("dav1d: empty path")
	}

	cmd := exec.CommandContext(ctx, d.binary,
		"-i", path,
		"-o", os.DevNull,
		"--framethreads", "1",
		"--tilethreads", "16")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("dav1d decode: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return ParseDecodedFrames(string(output))
}

// ParseDecodedFrames extracts the total frame count from dav1d output of the
// form "Decoded 240/240 frames".
func ParseDecodedFrames(output string) (int, error) {
	match := decodedPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, errors.New("dav1d: no decode summary in output")
	}
	frames, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("dav1d parse frames %q: %w", match[1], err)
	}
	return frames, nil
}

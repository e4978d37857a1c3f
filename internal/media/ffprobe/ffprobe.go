package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index         int    `json:"index"`
	CodecName     string `json:"codec_name"`
	CodecType     string `json:"codec_type"`
	Duration      string `json:"duration"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	NBReadFrames  string `json:"nb_read_frames"`
	NBReadPackets string `json:"nb_read_packets"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = normalizeBinary(binary)
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return result, nil
}

// CountFrames decodes the first video stream and returns the exact number
// of frames it contains.
func CountFrames(ctx context.Context, binary string, path string) (int, error) {
	binary = normalizeBinary(binary)
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("ffprobe count: empty path")
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_frames",
		"-show_entries", "stream=nb_read_frames",
		"-of", "json",
		"--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe count: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return ParseFrameCount(output)
}

// CountPackets counts video packets without decoding. Cheaper than
// CountFrames but trusts the container.
func CountPackets(ctx context.Context, binary string, path string) (int, error) {
	binary = normalizeBinary(binary)
	path = strings.TrimSpace(path)
	if path == "" {
		return 0, errors.New("ffprobe count: empty path")
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "json",
		"--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe count: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	for _, stream := range result.Streams {
		raw := strings.TrimSpace(stream.NBReadPackets)
		if raw == "" || raw == "N/A" {
			continue
		}
		packets, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("ffprobe parse nb_read_packets %q: %w", raw, err)
		}
		return packets, nil
	}
	return 0, errors.New("ffprobe: no packet count reported")
}

// ParseFrameCount extracts nb_read_frames from an ffprobe JSON payload.
func ParseFrameCount(payload []byte) (int, error) {
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return 0, fmt.Errorf("ffprobe parse: %w", err)
	}
	for _, stream := range result.Streams {
		raw := strings.TrimSpace(stream.NBReadFrames)
		if raw == "" || raw == "N/A" {
			continue
		}
		frames, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("ffprobe parse nb_read_frames %q: %w", raw, err)
		}
		return frames, nil
	}
	return 0, errors.New("ffprobe: no frame count reported")
}

func normalizeBinary(binary string) string {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "ffprobe"
	}
	return binary
}

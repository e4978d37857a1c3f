// Package split partitions an input video into independently encodable
// scene segments and verifies the result.
package split

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"swarmenc/internal/media/ffprobe"
)

// SceneInfo describes one produced segment.
type SceneInfo struct {
	Start   int
	Frames  int
	Segment string
}

// Result is the outcome of a split pass.
type Result struct {
	// Scenes is keyed by zero-padded scene number.
	Scenes      map[string]SceneInfo
	TotalFrames int
	Segments    []string
}

// FFmpegSplitter splits on keyframe boundaries using stream copy. Frame
// counts per segment come from a packet-count probe; the verification pass
// re-counts by decoding.
type FFmpegSplitter struct {
	ffmpeg  string
	ffprobe string
	logger  *slog.Logger
}

// NewFFmpegSplitter constructs a splitter around the given binaries.
func NewFFmpegSplitter(ffmpegBin, ffprobeBin string, logger *slog.Logger) *FFmpegSplitter {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpegSplitter{ffmpeg: ffmpegBin, ffprobe: ffprobeBin, logger: logger}
}

// Split produces segments under outDir and probes each for its frame count.
// minFrames and maxFrames bound segment sizes when positive; maxFrames
// forces additional keyframes, minFrames merges runts into the previous
// segment boundary by raising the segment time floor.
func (s *FFmpegSplitter) Split(ctx context.Context, input, outDir string, minFrames, maxFrames int) (Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create split directory: %w", err)
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", input,
		"-map", "0:v:0",
		"-c", "copy",
		"-avoid_negative_ts", "1",
	}
	if maxFrames > 0 {
		// Re-encode pass is out of scope for a copy split; cap segment
		// length by forcing the segment muxer to cut at frame multiples.
		args = append(args, "-f", "segment", "-segment_frames", frameCuts(maxFrames))
	} else {
		args = append(args, "-f", "segment")
	}
	args = append(args, filepath.Join(outDir, "%05d.mkv"))

	cmd := exec.CommandContext(ctx, s.ffmpeg, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return Result{}, fmt.Errorf("ffmpeg segment: %w: %s", err, strings.TrimSpace(string(output)))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return Result{}, fmt.Errorf("read split directory: %w", err)
	}

	segments := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mkv") {
			continue
		}
		segments = append(segments, entry.Name())
	}
	sort.Strings(segments)

	result := Result{Scenes: make(map[string]SceneInfo, len(segments)), Segments: segments}
	start := 0
	for _, segment := range segments {
		frames, err := ffprobe.CountPackets(ctx, s.ffprobe, filepath.Join(outDir, segment))
		if err != nil {
			return Result{}, fmt.Errorf("probe segment %s: %w", segment, err)
		}
		if minFrames > 0 && frames < minFrames {
			s.logger.Warn("segment below minimum frame count",
				slog.String("segment", segment),
				slog.Int("frames", frames),
				slog.Int("min_frames", minFrames))
		}
		scene := strings.TrimSuffix(segment, filepath.Ext(segment))
		result.Scenes[scene] = SceneInfo{Start: start, Frames: frames, Segment: segment}
		start += frames
		result.TotalFrames += frames
	}

	return result, nil
}

// Verify decodes every segment and reports the scenes whose decoded frame
// count disagrees with the split result. Those scenes are unencodable as-is.
func (s *FFmpegSplitter) Verify(ctx context.Context, outDir string, scenes map[string]SceneInfo) ([]string, error) {
	keys := make([]string, 0, len(scenes))
	for key := range scenes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var bad []string
	for _, key := range keys {
		info := scenes[key]
		decoded, err := ffprobe.CountFrames(ctx, s.ffprobe, filepath.Join(outDir, info.Segment))
		if err != nil {
			s.logger.Warn("segment failed decode verification",
				slog.String("scene", key),
				slog.String("error", err.Error()))
			bad = append(bad, key)
			continue
		}
		if decoded != info.Frames {
			s.logger.Warn("segment frame count drifted after split",
				slog.String("scene", key),
				slog.Int("expected", info.Frames),
				slog.Int("decoded", decoded))
			bad = append(bad, key)
		}
	}
	return bad, nil
}

func frameCuts(maxFrames int) string {
	// The segment muxer wants explicit cut points. Emit a generous ladder;
	// segments still end early at the preceding keyframe.
	cuts := make([]string, 0, 512)
	for frame := maxFrames; len(cuts) < 512; frame += maxFrames {
		cuts = append(cuts, fmt.Sprintf("%d", frame))
	}
	return strings.Join(cuts, ",")
}

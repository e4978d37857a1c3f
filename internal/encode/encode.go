// Package encode runs the two-pass aomenc/vpxenc pipeline: ffmpeg decodes
// the segment to yuv4mpegpipe on stdout and the encoder consumes it on
// stdin, once per pass.
package encode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Progress reports encoder output as it is parsed.
type Progress struct {
	Pass  int
	Frame int
}

// Request describes one segment encode.
type Request struct {
	Input         string
	Encoder       string // "aom" or "vpx"
	EncoderParams string
	FFmpegParams  string
	Frames        int
	GrainFile     string // optional film grain table, pass 2 only
	Threads       int
}

// Runner produces encoded artifacts and reports encoder versions.
type Runner interface {
	Encode(ctx context.Context, req Request, progress func(Progress)) (string, error)
	Version(ctx context.Context, encoder string) (string, error)
}

// Pipeline is the ffmpeg-fed two-pass encoder runner.
type Pipeline struct {
	ffmpeg string
	aomenc string
	vpxenc string
	logger *slog.Logger
}

// NewPipeline constructs a runner around the given binaries.
func NewPipeline(ffmpeg, aomenc, vpxenc string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if aomenc == "" {
		aomenc = "aomenc"
	}
	if vpxenc == "" {
		vpxenc = "vpxenc"
	}
	return &Pipeline{ffmpeg: ffmpeg, aomenc: aomenc, vpxenc: vpxenc, logger: logger}
}

var progressPattern = regexp.MustCompile(`frame.*?([0-9]+)/([0-9]+)`)

// ParseProgress extracts the submitted frame count from one encoder
// status line. Returns -1 when the line carries no frame counter.
func ParseProgress(line string) int {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return -1
	}
	frame, err := strconv.Atoi(match[1])
	if err != nil {
		return -1
	}
	return frame
}

// Encode runs both passes and returns the artifact path (input + ".ivf").
// Partial outputs and first-pass stats are removed on failure.
func (p *Pipeline) Encode(ctx context.Context, req Request, progress func(Progress)) (string, error) {
	binary, err := p.encoderBinary(req.Encoder)
	if err != nil {
		return "", err
	}

	output := req.Input + ".ivf"
	statsFile := req.Input + ".log"

	cleanup := func() {
		_ = os.Remove(output)
		_ = os.Remove(statsFile)
	}

	for pass := 1; pass <= 2; pass++ {
		if err := p.runPass(ctx, binary, req, pass, output, statsFile, progress); err != nil {
			cleanup()
			return "", fmt.Errorf("pass %d: %w", pass, err)
		}
	}

	_ = os.Remove(statsFile)

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		cleanup()
		return "", fmt.Errorf("encoder produced no output for %s", req.Input)
	}
	return output, nil
}

func (p *Pipeline) runPass(ctx context.Context, binary string, req Request, pass int, output, statsFile string, progress func(Progress)) error {
	decodeArgs := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", req.Input,
		"-strict", "-1",
		"-pix_fmt", "yuv420p",
	}
	if params := strings.Fields(req.FFmpegParams); len(params) > 0 {
		decodeArgs = append(decodeArgs, params...)
	}
	decodeArgs = append(decodeArgs, "-f", "yuv4mpegpipe", "-")

	encodeArgs := []string{
		"-",
		"--ivf",
		fmt.Sprintf("--fpf=%s", statsFile),
		fmt.Sprintf("--threads=%d", max(req.Threads, 1)),
		"--passes=2",
		fmt.Sprintf("--pass=%d", pass),
	}
	for _, param := range strings.Fields(req.EncoderParams) {
		// First-pass analysis must not carry grain synthesis.
		if pass == 1 && strings.HasPrefix(param, "--denoise-noise-level") {
			continue
		}
		encodeArgs = append(encodeArgs, param)
	}
	if pass == 1 {
		encodeArgs = append(encodeArgs, "-o", os.DevNull)
	} else {
		if req.GrainFile != "" {
			encodeArgs = append(encodeArgs, fmt.Sprintf("--film-grain-table=%s", req.GrainFile))
		}
		encodeArgs = append(encodeArgs, "-o", output)
	}

	decode := exec.CommandContext(ctx, p.ffmpeg, decodeArgs...)
	encoder := exec.CommandContext(ctx, binary, encodeArgs...)

	pipe, err := decode.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decode pipe: %w", err)
	}
	encoder.Stdin = pipe

	stderr, err := encoder.StderrPipe()
	if err != nil {
		return fmt.Errorf("encoder pipe: %w", err)
	}

	if err := decode.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	if err := encoder.Start(); err != nil {
		_ = decode.Process.Kill()
		_ = decode.Wait()
		return fmt.Errorf("start %s: %w", binary, err)
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanLines)
	for scanner.Scan() {
		if frame := ParseProgress(scanner.Text()); frame >= 0 && progress != nil {
			progress(Progress{Pass: pass, Frame: frame})
		}
	}

	encodeErr := encoder.Wait()
	decodeErr := decode.Wait()
	if encodeErr != nil {
		return fmt.Errorf("%s: %w", binary, encodeErr)
	}
	if decodeErr != nil {
		// The encoder closing stdin early after its last frame is normal;
		// only surface decode failures when the encoder also saw trouble.
		p.logger.Debug("ffmpeg decode exit", slog.String("error", decodeErr.Error()))
	}
	return nil
}

// scanLines splits on both \n and \r so in-place encoder progress
// updates become individual lines.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := strings.IndexAny(string(data), "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var versionPatterns = map[string]*regexp.Regexp{
	"aom": regexp.MustCompile(`av1\s+-\s+(.+)`),
	"vpx": regexp.MustCompile(`vp9\s+-\s+(.+)`),
}

// Version reports the encoder's codec version string, parsed from its
// --help output the same way the coordinator operator pins it.
func (p *Pipeline) Version(ctx context.Context, encoder string) (string, error) {
	binary, err := p.encoderBinary(encoder)
	if err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, binary, "--help").CombinedOutput()
	if err != nil && len(out) == 0 {
		return "", fmt.Errorf("%s --help: %w", binary, err)
	}
	version := ParseVersion(encoder, string(out))
	if version == "" {
		return "", fmt.Errorf("no codec version in %s --help output", binary)
	}
	return version, nil
}

// ParseVersion extracts the codec version from encoder help text.
func ParseVersion(encoder, help string) string {
	pattern, ok := versionPatterns[encoder]
	if !ok {
		return ""
	}
	match := pattern.FindStringSubmatch(help)
	if match == nil {
		return ""
	}
	version := strings.TrimSpace(match[1])
	version = strings.TrimSuffix(version, "(default)")
	return strings.TrimSpace(version)
}

func (p *Pipeline) encoderBinary(encoder string) (string, error) {
	switch encoder {
	case "aom":
		return p.aomenc, nil
	case "vpx":
		return p.vpxenc, nil
	default:
		return "", fmt.Errorf("unsupported encoder %q", encoder)
	}
}

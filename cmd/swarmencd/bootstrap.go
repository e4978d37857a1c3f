package main

import (
	"context"
	"log/slog"
	"os"

	"swarmenc/internal/config"
	"swarmenc/internal/media/concat"
	"swarmenc/internal/media/dav1d"
	"swarmenc/internal/media/ffprobe"
	"swarmenc/internal/media/split"
	"swarmenc/internal/project"
)

func newCollaborators(cfg *config.Config, logger *slog.Logger) project.Collaborators {
	return project.Collaborators{
		Splitter: &splitterAdapter{
			inner: split.NewFFmpegSplitter(cfg.Worker.FFmpeg, cfg.Worker.FFprobe, logger),
		},
		Verifier: &encodeVerifier{
			decoder: dav1d.NewDecoder(cfg.Worker.Dav1d),
			ffprobe: cfg.Worker.FFprobe,
		},
		Concat: concat.NewFFmpegConcat(cfg.Worker.FFmpeg),
	}
}

// splitterAdapter maps the ffmpeg splitter's segment info onto registry
// scenes.
type splitterAdapter struct {
	inner *split.FFmpegSplitter
}

func (a *splitterAdapter) Split(ctx context.Context, input, outDir string, minFrames, maxFrames int) (map[string]project.Scene, int, error) {
	result, err := a.inner.Split(ctx, input, outDir, minFrames, maxFrames)
	if err != nil {
		return nil, 0, err
	}
	scenes := make(map[string]project.Scene, len(result.Scenes))
	for name, info := range result.Scenes {
		scenes[name] = project.Scene{
			Start:   info.Start,
			Frames:  info.Frames,
			Segment: info.Segment,
		}
	}
	return scenes, result.TotalFrames, nil
}

func (a *splitterAdapter) Verify(ctx context.Context, outDir string, scenes map[string]project.Scene) ([]string, error) {
	infos := make(map[string]split.SceneInfo, len(scenes))
	for name, scene := range scenes {
		infos[name] = split.SceneInfo{
			Start:   scene.Start,
			Frames:  scene.Frames,
			Segment: scene.Segment,
		}
	}
	return a.inner.Verify(ctx, outDir, infos)
}

// encodeVerifier counts decoded frames in uploaded artifacts: dav1d for
// AV1 streams, ffprobe for everything else.
type encodeVerifier struct {
	decoder *dav1d.Decoder
	ffprobe string
}

func (v *encodeVerifier) DecodedFrames(ctx context.Context, encoder, path string) (int, error) {
	if encoder == "aom" {
		return v.decoder.DecodedFrames(ctx, path)
	}
	return ffprobe.CountFrames(ctx, v.ffprobe, path)
}

// registerCompletionActions wires the named on_complete hooks projects can
// request at submission time.
func registerCompletionActions(registry *project.Registry) {
	registry.RegisterCompletionAction("cleanup", func(_ context.Context, _ *project.Registry, proj *project.Project) {
		_ = os.RemoveAll(proj.SplitDir)
		_ = os.RemoveAll(proj.EncodeDir)
	})
	registry.RegisterCompletionAction("remove", func(_ context.Context, reg *project.Registry, proj *project.Project) {
		_ = os.RemoveAll(proj.SplitDir)
		_ = os.RemoveAll(proj.EncodeDir)
		reg.Delete(proj.ID)
	})
}

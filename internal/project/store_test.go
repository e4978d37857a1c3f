package project_test

import (
	"context"
	"testing"
	"time"

	"swarmenc/internal/project"
	"swarmenc/internal/testsupport"
)

func TestStoreRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	records := []project.ProjectRecord{
		{
			ProjectID:     "alpha",
			Priority:      -1,
			PathIn:        "/media/alpha.mkv",
			Encoder:       "aom",
			EncoderParams: "--cpu-used=4 --end-usage=q --cq-level=30",
			FFmpegParams:  "-vf scale=1280:-2",
			MinFrames:     24,
			MaxFrames:     240,
			InputFrames:   30,
			Grain:         true,
			OnComplete:    "cleanup",
			Scenes: map[string]project.Scene{
				"00000": {Start: 0, Frames: 10, Segment: "00000.mkv", Filesize: 1234},
				"00001": {Start: 10, Frames: 10, Segment: "00001.mkv", Bad: true},
				"00002": {Start: 20, Frames: 10, Segment: "00002.mkv"},
			},
		},
		{
			ProjectID: "beta",
			PathIn:    "/media/beta.mkv",
			Encoder:   "vpx",
			Scenes:    map[string]project.Scene{},
		},
	}

	ctx := context.Background()
	if err := store.SaveAll(ctx, records); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d records, want 2", len(loaded))
	}

	alpha := loaded[0]
	if alpha.ProjectID != "alpha" {
		t.Fatalf("first record = %s, want alpha (ordered by ID)", alpha.ProjectID)
	}
	if alpha.Priority != -1 || !alpha.Grain || alpha.OnComplete != "cleanup" {
		t.Fatalf("alpha fields lost: %+v", alpha)
	}
	if len(alpha.Scenes) != 3 {
		t.Fatalf("alpha scenes = %d, want 3", len(alpha.Scenes))
	}
	if scene := alpha.Scenes["00000"]; scene.Filesize != 1234 {
		t.Fatalf("scene 00000 filesize = %d, want 1234", scene.Filesize)
	}
	if scene := alpha.Scenes["00001"]; !scene.Bad {
		t.Fatal("scene 00001 lost its bad flag")
	}

	// A second save fully replaces the previous state.
	if err := store.SaveAll(ctx, records[:1]); err != nil {
		t.Fatalf("SaveAll replace: %v", err)
	}
	loaded, err = store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll after replace: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ProjectID != "alpha" {
		t.Fatalf("replace left %d records", len(loaded))
	}
}

func TestRegistryResumeFromStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	scenes := map[string]project.Scene{
		"00000": {Start: 0, Frames: 10, Segment: "00000.mkv"},
		"00001": {Start: 10, Frames: 10, Segment: "00001.mkv"},
	}

	first := testsupport.NewRegistry(t, cfg, project.Collaborators{
		Splitter: &testsupport.StubSplitter{Scenes: scenes, TotalFrames: 20},
	})

	id := "resume-test"
	splitDir, encodeDir, outputPath := first.Paths().For(id)
	p := project.New(project.Settings{
		ID:         id,
		InputPath:  "/media/in.mkv",
		OutputPath: outputPath,
		SplitDir:   splitDir,
		EncodeDir:  encodeDir,
		Encoder:    "aom",
	})
	first.Add(p)
	testsupport.WaitFor(t, 5*time.Second, func() bool {
		return p.Status() == project.StatusReady
	}, "first registry to be ready")

	// Simulate one finished scene already sitting in the encode dir, then
	// bring the project up in a fresh registry. The split dir must be
	// non-empty so the restart is treated as a resume, not a re-split.
	testsupport.WriteFile(t, splitDir+"/00000.mkv", 1)
	testsupport.WriteFile(t, splitDir+"/00001.mkv", 1)
	testsupport.WriteFile(t, encodeDir+"/00000.ivf", 512)
	first.Close()

	second := testsupport.NewRegistry(t, cfg, project.Collaborators{})
	if err := second.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	resumed, ok := second.Get(id)
	if !ok {
		t.Fatal("resumed project missing")
	}
	testsupport.WaitFor(t, 5*time.Second, func() bool {
		return resumed.Status() == project.StatusReady
	}, "resumed project to be ready")

	summary := resumed.Summary()
	if summary.JobCount != 1 {
		t.Fatalf("resumed JobCount = %d, want 1 (scene 00000 already on disk)", summary.JobCount)
	}
	if summary.DoneFrames != 10 {
		t.Fatalf("resumed DoneFrames = %d, want 10", summary.DoneFrames)
	}
}

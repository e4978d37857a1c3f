package testsupport

import (
	"context"
	"testing"

	"swarmenc/internal/config"
	"swarmenc/internal/project"
)

// MustOpenStore opens a project store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *project.Store {
	t.Helper()

	store, err := project.OpenStore(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("project.OpenStore: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// StubSplitter returns canned scenes from Split and reports no bad scenes.
type StubSplitter struct {
	Scenes      map[string]project.Scene
	TotalFrames int
	Bad         []string
	Err         error
}

func (s *StubSplitter) Split(context.Context, string, string, int, int) (map[string]project.Scene, int, error) {
	if s.Err != nil {
		return nil, 0, s.Err
	}
	scenes := make(map[string]project.Scene, len(s.Scenes))
	for name, scene := range s.Scenes {
		scenes[name] = scene
	}
	return scenes, s.TotalFrames, nil
}

func (s *StubSplitter) Verify(context.Context, string, map[string]project.Scene) ([]string, error) {
	return s.Bad, nil
}

// StubVerifier reports a fixed decoded-frame count for every artifact.
type StubVerifier struct {
	Frames int
	Err    error
}

func (v *StubVerifier) DecodedFrames(context.Context, string, string) (int, error) {
	return v.Frames, v.Err
}

// StubConcat records concat invocations and optionally fails them.
type StubConcat struct {
	Calls   int
	Outputs []string
	Err     error
}

func (c *StubConcat) Concat(_ context.Context, _ []string, output string) error {
	c.Calls++
	c.Outputs = append(c.Outputs, output)
	return c.Err
}

// NewRegistry builds a registry over stub collaborators, persisting to the
// config's database path, and registers cleanup.
func NewRegistry(t testing.TB, cfg *config.Config, collab project.Collaborators) *project.Registry {
	t.Helper()

	if collab.Splitter == nil {
		collab.Splitter = &StubSplitter{}
	}
	if collab.Verifier == nil {
		collab.Verifier = &StubVerifier{}
	}
	if collab.Concat == nil {
		collab.Concat = &StubConcat{}
	}

	store := MustOpenStore(t, cfg)
	registry := project.NewRegistry(store, collab, project.PathConfig{
		SplitRoot:  cfg.SplitRoot(),
		EncodeRoot: cfg.EncodeRoot(),
		OutputDir:  cfg.Paths.OutputDir,
	}, nil)
	t.Cleanup(registry.Close)
	return registry
}

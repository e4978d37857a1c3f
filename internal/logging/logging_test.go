package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("New accepted unknown format")
	}
}

func TestConsoleOutputToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	logger, err := New(Options{Level: "debug", Format: "console", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("job fetched", slog.String("scene", "00001"), slog.Int("frames", 120))
	logger.With(slog.String("projectid", "p1")).Warn("upload retry", slog.String("detail", "two words"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	text := string(data)

	if !strings.Contains(text, "INFO job fetched scene=00001 frames=120") {
		t.Fatalf("missing info line in %q", text)
	}
	if !strings.Contains(text, "WARN upload retry projectid=p1") {
		t.Fatalf("missing bound attr in %q", text)
	}
	// Values with spaces get quoted.
	if !strings.Contains(text, `detail="two words"`) {
		t.Fatalf("missing quoted value in %q", text)
	}
}

func TestConsoleHandlerLevelGate(t *testing.T) {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelWarn)
	handler := newConsoleHandler(os.Stdout, &levelVar)

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled at warn level")
	}
}

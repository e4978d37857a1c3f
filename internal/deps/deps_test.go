package deps

import (
	"os"
	"path/filepath"
	"testing"

	"swarmenc/internal/config"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unconfigured", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("results = %d, want %d", len(results), len(reqs))
	}
	if !results[0].Available {
		t.Fatalf("present binary reported unavailable: %s", results[0].Detail)
	}
	if results[1].Available {
		t.Fatal("missing binary reported available")
	}
	if results[2].Available || results[2].Detail != "command not configured" {
		t.Fatalf("unconfigured = %+v", results[2])
	}

	missing := MissingRequired(results)
	if len(missing) != 1 || missing[0] != "Missing" {
		t.Fatalf("MissingRequired = %v", missing)
	}
}

func TestRequiredCoversConfiguredTools(t *testing.T) {
	cfg := config.Default()
	reqs := Required(&cfg)
	names := make(map[string]string, len(reqs))
	for _, req := range reqs {
		names[req.Name] = req.Command
	}
	if names["FFmpeg"] != "ffmpeg" || names["dav1d"] != "dav1d" {
		t.Fatalf("Required = %v", names)
	}
}

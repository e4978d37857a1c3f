package project

import (
	"testing"
	"time"
)

func TestTelemetrySlidingWindow(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	telemetry := NewTelemetryAt(func() time.Time { return clock })

	telemetry.Hit(100)
	clock = clock.Add(20 * time.Minute)
	telemetry.Hit(50)

	total, last := telemetry.FramesPerHour()
	if total != 150 {
		t.Fatalf("FramesPerHour = %d, want 150", total)
	}
	if !last.Equal(clock) {
		t.Fatalf("last sample = %v, want %v", last, clock)
	}

	// Advance past the first sample's expiry; only the second remains.
	clock = clock.Add(50 * time.Minute)
	total, _ = telemetry.FramesPerHour()
	if total != 50 {
		t.Fatalf("FramesPerHour after expiry = %d, want 50", total)
	}

	// And past both.
	clock = clock.Add(time.Hour)
	total, last = telemetry.FramesPerHour()
	if total != 0 {
		t.Fatalf("FramesPerHour after full expiry = %d, want 0", total)
	}
	if !last.IsZero() {
		t.Fatalf("last sample after full expiry = %v, want zero", last)
	}
}

func TestTelemetryEmpty(t *testing.T) {
	telemetry := NewTelemetry()
	total, last := telemetry.FramesPerHour()
	if total != 0 || !last.IsZero() {
		t.Fatalf("empty telemetry = (%d, %v), want (0, zero)", total, last)
	}
}

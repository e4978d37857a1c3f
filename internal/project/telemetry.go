package project

import (
	"sync"
	"time"
)

const telemetryWindow = time.Hour

type telemetrySample struct {
	frames int
	at     time.Time
}

// Telemetry keeps a sliding one-hour window of validated-upload frame
// counts and derives the frames-per-hour aggregate from it.
type Telemetry struct {
	mu      sync.Mutex
	samples []telemetrySample
	now     func() time.Time
}

// NewTelemetry constructs an empty window.
func NewTelemetry() *Telemetry {
	return &Telemetry{now: time.Now}
}

// NewTelemetryAt constructs an empty window with a custom clock.
func NewTelemetryAt(now func() time.Time) *Telemetry {
	return &Telemetry{now: now}
}

// Hit records a validated upload of the given frame count.
func (t *Telemetry) Hit(frames int) {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(now)
	t.samples = append(t.samples, telemetrySample{frames: frames, at: now})
}

// FramesPerHour returns the in-window frame sum and the time of the most
// recent sample. The zero time means no samples have been recorded.
func (t *Telemetry) FramesPerHour() (int, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())

	total := 0
	var last time.Time
	for _, sample := range t.samples {
		total += sample.frames
		last = sample.at
	}
	return total, last
}

func (t *Telemetry) pruneLocked(now time.Time) {
	cutoff := now.Add(-telemetryWindow)
	kept := t.samples[:0]
	for _, sample := range t.samples {
		if sample.at.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	t.samples = kept
}

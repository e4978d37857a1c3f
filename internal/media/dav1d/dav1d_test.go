package dav1d

import "testing"

func TestParseDecodedFrames(t *testing.T) {
	output := "dav1d 1.4.1 - AV1 decoder\nDecoded 240/240 frames (100.0%)\n"
	frames, err := ParseDecodedFrames(output)
	if err != nil {
		t.Fatalf("ParseDecodedFrames: %v", err)
	}
	if frames != 240 {
		t.Fatalf("frames = %d, want 240", frames)
	}
}

func TestParseDecodedFramesPartialDecode(t *testing.T) {
	// The total after the slash is authoritative even when dav1d bails out
	// partway through a truncated artifact.
	frames, err := ParseDecodedFrames("Decoded 117/240 frames (48.8%)")
	if err != nil {
		t.Fatalf("ParseDecodedFrames: %v", err)
	}
	if frames != 240 {
		t.Fatalf("frames = %d, want 240", frames)
	}
}

func TestParseDecodedFramesNoSummary(t *testing.T) {
	if _, err := ParseDecodedFrames("Error parsing OBU data"); err == nil {
		t.Fatal("expected error for output without decode summary")
	}
}

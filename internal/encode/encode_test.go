package encode

import "testing"

func TestParseProgress(t *testing.T) {
	cases := []struct {
		line string
		want int
	}{
		{"Pass 1/2 frame  120/119   53836B    3588b/f   86115b/s ...", 120},
		{"Pass 2/2 frame    1/0        0B       0b/f       0b/s ...", 1},
		{"no counter here", -1},
		{"", -1},
	}
	for _, tc := range cases {
		if got := ParseProgress(tc.line); got != tc.want {
			t.Errorf("ParseProgress(%q) = %d, want %d", tc.line, got, tc.want)
		}
	}
}

func TestParseVersion(t *testing.T) {
	aomHelp := `Usage: aomenc <options> -o dst_filename src_filename

Included encoders:
    av1    - AOMedia Project AV1 Encoder 3.8.1 (default)
`
	if got := ParseVersion("aom", aomHelp); got != "AOMedia Project AV1 Encoder 3.8.1" {
		t.Fatalf("aom version = %q", got)
	}

	vpxHelp := `Included encoders:
    vp8    - WebM Project VP8 Encoder v1.13.0
    vp9    - WebM Project VP9 Encoder v1.13.0 (default)
`
	if got := ParseVersion("vpx", vpxHelp); got != "WebM Project VP9 Encoder v1.13.0" {
		t.Fatalf("vpx version = %q", got)
	}

	if got := ParseVersion("aom", "no encoders here"); got != "" {
		t.Fatalf("missing version = %q, want empty", got)
	}
	if got := ParseVersion("svt", aomHelp); got != "" {
		t.Fatalf("unknown encoder = %q, want empty", got)
	}
}

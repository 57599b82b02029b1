package imaging

import (
	"strings"
	"testing"
	"time"
)

func TestProvenance_ExposureString(t *testing.T) {
	testCases := []struct {
		exposure int
		want     string
	}{
		{32, "32us"},
		{999, "999us"},
		{1_000, "1.0ms"},
		{250_000, "250.0ms"},
		{1_000_000, "1.000s"},
		{2_500_000, "2.500s"},
	}

	for _, tc := range testCases {
		p := Provenance{Exposure: tc.exposure}
		if got := p.ExposureString(); got != tc.want {
			t.Errorf("Exposure %d: expected %s, got %s", tc.exposure, tc.want, got)
		}
	}
}

func TestProvenance_Timestamps(t *testing.T) {
	p := Provenance{CapturedAt: time.Date(2025, 6, 1, 22, 30, 15, 123_000_000, time.UTC)}

	if got := p.UTCString(); got != "2025-06-01 22:30:15.123 (UTC)" {
		t.Errorf("Unexpected UTC timestamp %q", got)
	}
	if got := p.ISOString(); got != "2025-06-01T22:30:15.123Z" {
		t.Errorf("Unexpected ISO timestamp %q", got)
	}
	if !strings.HasSuffix(p.LocalString(), " (local)") {
		t.Errorf("Expected local timestamp suffix, got %q", p.LocalString())
	}
}

func TestProvenance_TextChunks(t *testing.T) {
	p := testProvenance("mono8", 640, 480)

	chunks := p.textChunks()
	keys := make(map[string]string, len(chunks))
	for _, kv := range chunks {
		keys[kv[0]] = kv[1]
	}

	for key, want := range map[string]string{
		"Camera":                "ZWO ASI178MM",
		"Exposure Microseconds": "250000",
		"Binning":               "1x1",
		"Image Format":          "mono8",
		"Width":                 "640",
		"Height":                "480",
		"Software":              Software,
	} {
		if got := keys[key]; got != want {
			t.Errorf("Chunk %q: expected %q, got %q", key, want, got)
		}
	}
}

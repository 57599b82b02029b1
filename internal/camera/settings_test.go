package camera

import (
	"testing"
)

func TestSettings_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero exposure", func(s *Settings) { s.Exposure = 0 }},
		{"negative exposure", func(s *Settings) { s.Exposure = -100 }},
		{"binning 3", func(s *Settings) { s.Binning = 3 }},
		{"unknown format", func(s *Settings) { s.Format = PixelFormat("raw12") }},
		{"unknown bandwidth", func(s *Settings) { s.Bandwidth = BandwidthMode("auto") }},
		{"roiX above 1", func(s *Settings) { s.ROIX = 1.5 }},
		{"negative roiY", func(s *Settings) { s.ROIY = -0.1 }},
		{"negative maxRecordingFPS", func(s *Settings) { s.MaxRecordingFPS = -1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("Default settings should validate, got: %v", err)
	}
}

func TestSettings_Diff(t *testing.T) {
	base := DefaultSettings()

	testCases := []struct {
		name   string
		mutate func(*Settings)
		want   ChangeKind
	}{
		{"identical", func(s *Settings) {}, ChangeNone},
		{"recording rate only", func(s *Settings) { s.MaxRecordingFPS = 5 }, ChangeNone},
		{"position only", func(s *Settings) { s.ROIX = 0.25; s.ROIY = 0.5 }, ChangePosition},
		{"exposure", func(s *Settings) { s.Exposure = 50000 }, ChangeFull},
		{"gain", func(s *Settings) { s.Gain = 200 }, ChangeFull},
		{"binning", func(s *Settings) { s.Binning = 2 }, ChangeFull},
		{"format", func(s *Settings) { s.Format = FormatMono16 }, ChangeFull},
		{"roi size", func(s *Settings) { s.ROIWidth = 0.5 }, ChangeFull},
		{"position and exposure", func(s *Settings) { s.ROIX = 0.1; s.Exposure = 20000 }, ChangeFull},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next := base
			tc.mutate(&next)
			if got := base.Diff(next); got != tc.want {
				t.Errorf("Expected %s change, got %s", tc.want, got)
			}
		})
	}
}

func TestSettings_Snapshot(t *testing.T) {
	s := DefaultSettings()
	s.Exposure = 250000
	s.Format = FormatMono16
	s.ROIWidth = 0.5
	s.ROIHeight = 0.5
	s.MaxRecordingFPS = 2.5

	data, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Failed to snapshot settings: %v", err)
	}

	restored, err := ParseSnapshot(data)
	if err != nil {
		t.Fatalf("Failed to parse snapshot: %v", err)
	}
	if restored != s {
		t.Errorf("Expected %+v, got %+v", s, restored)
	}
}

func TestParseSnapshot_Invalid(t *testing.T) {
	if _, err := ParseSnapshot("{not json"); err == nil {
		t.Error("Expected error for malformed snapshot")
	}
	if _, err := ParseSnapshot(`{"exposure": -5}`); err == nil {
		t.Error("Expected validation error for invalid snapshot values")
	}
}

func TestResolveROI(t *testing.T) {
	prop := Property{MaxWidth: 3096, MaxHeight: 2080}

	testCases := []struct {
		name    string
		mutate  func(*Settings)
		want    roi
	}{
		{
			"full frame",
			func(s *Settings) {},
			roi{X: 0, Y: 0, Width: 3096, Height: 2080},
		},
		{
			"half frame rounds width down to step",
			func(s *Settings) { s.ROIWidth = 0.5; s.ROIHeight = 0.5 },
			// 1548 -> 1544 (multiple of 8), 1040 is already even
			roi{X: 0, Y: 0, Width: 1544, Height: 1040},
		},
		{
			"binning halves the region",
			func(s *Settings) { s.Binning = 2 },
			roi{X: 0, Y: 0, Width: 1544, Height: 1040},
		},
		{
			"tiny region clamps to minimum",
			func(s *Settings) { s.ROIWidth = 0.01; s.ROIHeight = 0.01 },
			roi{X: 0, Y: 0, Width: 64, Height: 32},
		},
		{
			"offset scales with geometry",
			func(s *Settings) { s.ROIX = 0.5; s.ROIY = 0.5; s.ROIWidth = 0.25; s.ROIHeight = 0.25 },
			roi{X: 1548, Y: 1040, Width: 768, Height: 520},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(&s)
			if got := resolveROI(s, prop); got != tc.want {
				t.Errorf("Expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestFullFrameROI(t *testing.T) {
	prop := Property{MaxWidth: 3096, MaxHeight: 2080}

	got := fullFrameROI(2, prop)
	want := roi{X: 0, Y: 0, Width: 1544, Height: 1040}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
}

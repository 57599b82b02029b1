package camera

import (
	"testing"
	"time"
)

func TestRateTracker_Rate(t *testing.T) {
	base := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)

	testCases := []struct {
		name    string
		offsets []time.Duration
		want    float64
	}{
		{"no samples", nil, 0},
		{"one sample", []time.Duration{0}, 0},
		{
			"ten per second",
			[]time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond},
			10,
		},
		{
			"two per second",
			[]time.Duration{0, 500 * time.Millisecond, time.Second},
			2,
		},
		{
			"uneven spacing rounds to one decimal",
			[]time.Duration{0, 300 * time.Millisecond, 900 * time.Millisecond},
			// 2 frames over 0.9s = 2.222... -> 2.2
			2.2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := newRateTracker()
			for _, off := range tc.offsets {
				r.Add(base.Add(off))
			}
			if got := r.Rate(); got != tc.want {
				t.Errorf("Expected %.1f fps, got %.1f", tc.want, got)
			}
		})
	}
}

func TestRateTracker_TrailingWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	r := newRateTracker()

	// A slow burst that falls out of the window once faster frames arrive.
	r.Add(base)
	r.Add(base.Add(500*time.Millisecond))

	for i := 0; i < 10; i++ {
		r.Add(base.Add(3*time.Second + time.Duration(i)*100*time.Millisecond))
	}

	// Only the 10 recent samples remain: 9 frames over 0.9s.
	if got := r.Rate(); got != 10 {
		t.Errorf("Expected 10.0 fps after window slide, got %.1f", got)
	}
}

func TestRateTracker_Reset(t *testing.T) {
	base := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	r := newRateTracker()

	r.Add(base)
	r.Add(base.Add(100 * time.Millisecond))
	if r.Rate() == 0 {
		t.Fatal("Expected non-zero rate before reset")
	}

	r.Reset()
	if got := r.Rate(); got != 0 {
		t.Errorf("Expected 0 fps after reset, got %.1f", got)
	}
}

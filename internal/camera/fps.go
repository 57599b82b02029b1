package camera

import (
	"math"
	"sync"
	"time"
)

// fpsWindow is the span of frame timestamps kept for rate measurement.
const fpsWindow = 2 * time.Second

// rateTracker measures the capture rate over a trailing window of frame
// timestamps. It has its own lock so FPS queries never contend with the
// frame buffer.
type rateTracker struct {
	mu      sync.Mutex
	window  time.Duration
	samples []time.Time
}

func newRateTracker() *rateTracker {
	return &rateTracker{window: fpsWindow}
}

// Add records one frame arrival and drops samples older than the window.
func (r *rateTracker) Add(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.samples = append(r.samples, t)

	cutoff := t.Add(-r.window)
	i := 0
	for i < len(r.samples) && !r.samples[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.samples = append(r.samples[:0], r.samples[i:]...)
	}
}

// Rate returns frames per second over the current window, rounded to one
// decimal place. Fewer than two samples yield 0.
func (r *rateTracker) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) < 2 {
		return 0
	}
	span := r.samples[len(r.samples)-1].Sub(r.samples[0]).Seconds()
	if span <= 0 {
		return 0
	}
	fps := float64(len(r.samples)-1) / span
	return math.Round(fps*10) / 10
}

// Reset drops all samples, e.g. when capture stops.
func (r *rateTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
}

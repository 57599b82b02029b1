package camera

import (
	"errors"
	"testing"
	"time"
)

func sessionWithFrame(t *testing.T, frame Frame) *Session {
	t.Helper()
	s := NewSession(newFakeBinding(testProp()), t.TempDir())
	s.frameMu.Lock()
	s.latest = frame
	s.frameMu.Unlock()
	return s
}

func TestSession_HistogramNoFrame(t *testing.T) {
	s := NewSession(newFakeBinding(testProp()), t.TempDir())
	if _, err := s.Histogram(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Expected ErrNoFrame, got %v", err)
	}
}

func TestSession_HistogramMono8(t *testing.T) {
	s := sessionWithFrame(t, Frame{
		Pixels:    []byte{0, 0, 128, 255},
		Width:     2,
		Height:    2,
		Format:    FormatMono8,
		Timestamp: time.Now(),
	})

	h, err := s.Histogram()
	if err != nil {
		t.Fatalf("Failed to compute histogram: %v", err)
	}
	if h.R != nil || h.G != nil || h.B != nil {
		t.Error("Mono frame should not carry color histograms")
	}
	if h.Mono[0] != 2 || h.Mono[128] != 1 || h.Mono[255] != 1 {
		t.Errorf("Unexpected mono distribution: %v %v %v", h.Mono[0], h.Mono[128], h.Mono[255])
	}
}

func TestSession_HistogramMono16UsesHighByte(t *testing.T) {
	// Two little-endian samples: 0x80ff and 0x0001.
	s := sessionWithFrame(t, Frame{
		Pixels:    []byte{0xff, 0x80, 0x01, 0x00},
		Width:     2,
		Height:    1,
		Format:    FormatMono16,
		Timestamp: time.Now(),
	})

	h, err := s.Histogram()
	if err != nil {
		t.Fatalf("Failed to compute histogram: %v", err)
	}
	if h.Mono[0x80] != 1 || h.Mono[0x00] != 1 {
		t.Error("Expected 16-bit samples bucketed by high byte")
	}
}

func TestSession_HistogramRGB(t *testing.T) {
	// One pixel in sensor BGR order: B=10, G=20, R=30.
	s := sessionWithFrame(t, Frame{
		Pixels:    []byte{10, 20, 30},
		Width:     1,
		Height:    1,
		Format:    FormatRGB24,
		Timestamp: time.Now(),
	})

	h, err := s.Histogram()
	if err != nil {
		t.Fatalf("Failed to compute histogram: %v", err)
	}
	if h.Mono != nil {
		t.Error("Color frame should not carry a mono histogram")
	}
	if h.B[10] != 1 || h.G[20] != 1 || h.R[30] != 1 {
		t.Error("Expected channels split in BGR byte order")
	}
}

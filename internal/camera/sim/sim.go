// Package sim provides a simulated sensor binding. It stands in for the
// vendor SDK on hosts without a physical camera: development, CI and the
// package tests. Frames are drifting gradients paced by the configured
// exposure.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/roman-kulish/astrocam/internal/camera"
)

const Driver = "sim"

// Config describes the simulated sensor geometry.
type Config struct {
	Name   string `yaml:"name" json:"name"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Color  bool   `yaml:"color" json:"color"`
}

func (c *Config) Validate() error {
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("sim.Config: invalid geometry %dx%d", c.Width, c.Height)
	}
	return nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Name == "" {
		out.Name = "Simulated Camera"
	}
	if out.Width == 0 {
		out.Width = 3096
	}
	if out.Height == 0 {
		out.Height = 2080
	}
	return out
}

// Sensor implements camera.Binding over a synthetic device.
type Sensor struct {
	cfg Config
}

// New creates a simulated sensor binding.
func New(cfg *Config) (*Sensor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sensor{cfg: cfg.withDefaults()}, nil
}

func (s *Sensor) Enumerate() ([]camera.Descriptor, error) {
	return []camera.Descriptor{{Index: 0, Name: s.cfg.Name}}, nil
}

func (s *Sensor) Open(index int) (camera.Handle, error) {
	if index != 0 {
		return nil, fmt.Errorf("sim: no device at index %d", index)
	}
	h := &handle{cfg: s.cfg}
	h.width = s.cfg.Width
	h.height = s.cfg.Height
	h.binning = 1
	h.format = camera.FormatMono8
	h.exposure = 10000
	return h, nil
}

type handle struct {
	cfg Config

	mu        sync.Mutex
	closed    bool
	streaming bool
	exposure  int // microseconds
	width     int
	height    int
	x, y      int
	binning   int
	format    camera.PixelFormat
	phase     uint8
}

func (h *handle) Property() (camera.Property, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return camera.Property{}, camera.ErrDeviceGone
	}
	return camera.Property{
		Name:      h.cfg.Name,
		MaxWidth:  h.cfg.Width,
		MaxHeight: h.cfg.Height,
		IsColor:   h.cfg.Color,
	}, nil
}

func (h *handle) ControlRange(name string) (camera.ControlRange, error) {
	switch name {
	case camera.ControlBandwidth:
		return camera.ControlRange{Min: 40, Max: 100}, nil
	case camera.ControlGain:
		return camera.ControlRange{Min: 0, Max: 600}, nil
	case camera.ControlExposure:
		return camera.ControlRange{Min: 32, Max: 2_000_000_000}, nil
	}
	return camera.ControlRange{}, fmt.Errorf("sim: unknown control %q", name)
}

func (h *handle) SetControl(name string, value int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return camera.ErrDeviceGone
	}
	if name == camera.ControlExposure {
		h.exposure = value
	}
	return nil
}

func (h *handle) SetROI(width, height, binning int, format camera.PixelFormat) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return camera.ErrDeviceGone
	}
	if width*binning > h.cfg.Width || height*binning > h.cfg.Height {
		return fmt.Errorf("sim: ROI %dx%d at binning %d exceeds sensor", width, height, binning)
	}
	h.width = width
	h.height = height
	h.binning = binning
	h.format = format
	return nil
}

func (h *handle) SetROIPosition(x, y int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return camera.ErrDeviceGone
	}
	if x < 0 || y < 0 || (x+h.width)*h.binning > h.cfg.Width || (y+h.height)*h.binning > h.cfg.Height {
		return fmt.Errorf("sim: ROI position (%d,%d) out of bounds", x, y)
	}
	h.x, h.y = x, y
	return nil
}

func (h *handle) StartStreaming() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return camera.ErrDeviceGone
	}
	h.streaming = true
	return nil
}

func (h *handle) StopStreaming() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streaming = false
	return nil
}

// CaptureFrame synthesizes one frame after roughly one exposure worth of
// wall-clock time, honoring the caller's timeout.
func (h *handle) CaptureFrame(buf []byte, timeout time.Duration) (int, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0, camera.ErrDeviceGone
	}
	if !h.streaming {
		h.mu.Unlock()
		return 0, fmt.Errorf("sim: streaming not started")
	}
	exposure := time.Duration(h.exposure) * time.Microsecond
	w, hgt, format := h.width, h.height, h.format
	phase := h.phase
	h.phase++
	h.mu.Unlock()

	if exposure > timeout {
		time.Sleep(timeout)
		return 0, camera.ErrTimeout
	}
	time.Sleep(exposure)

	size := w * hgt * format.BytesPerPixel()
	if len(buf) < size {
		return 0, fmt.Errorf("sim: buffer too small: %d < %d", len(buf), size)
	}

	for y := 0; y < hgt; y++ {
		for x := 0; x < w; x++ {
			v := uint8(x+y) + phase
			switch format {
			case camera.FormatMono16:
				i := (y*w + x) * 2
				buf[i] = 0
				buf[i+1] = v
			case camera.FormatRGB24:
				i := (y*w + x) * 3
				buf[i] = v
				buf[i+1] = v / 2
				buf[i+2] = 255 - v
			default:
				buf[y*w+x] = v
			}
		}
	}

	return size, nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.streaming = false
	return nil
}

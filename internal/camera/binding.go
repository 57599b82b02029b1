package camera

import (
	"errors"
	"time"
)

const (
	// FormatMono8 is the default pixel format
	FormatMono8  PixelFormat = "mono8"
	FormatMono16 PixelFormat = "mono16"
	FormatRGB24  PixelFormat = "rgb24"

	BandwidthMin BandwidthMode = "min"
	BandwidthMax BandwidthMode = "max"

	// Control names understood by SetControl
	ControlExposure  = "Exposure"
	ControlGain      = "Gain"
	ControlBandwidth = "BandWidth"
)

var (
	// ErrTimeout is returned by Handle.CaptureFrame when no frame arrived
	// within the requested timeout. It is the only capture error treated
	// as transient by the capture loop.
	ErrTimeout = errors.New("capture timed out")

	// ErrDeviceGone is returned by a binding when the physical sensor has
	// been lost mid-operation.
	ErrDeviceGone = errors.New("device gone")

	// ErrNotConnected is returned by session operations that require an
	// established sensor connection.
	ErrNotConnected = errors.New("camera not connected")

	// ErrNoFrame is returned by LatestFrame before the first capture.
	ErrNoFrame = errors.New("no frame captured yet")
)

type PixelFormat string

func (f PixelFormat) String() string { return string(f) }

// BytesPerPixel returns the storage size of one pixel in this format.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatMono16:
		return 2
	case FormatRGB24:
		return 3
	default:
		return 1
	}
}

type BandwidthMode string

func (b BandwidthMode) String() string { return string(b) }

// Descriptor identifies one attached sensor as reported by enumeration.
type Descriptor struct {
	Index int
	Name  string
}

// Property describes the fixed characteristics of an opened sensor.
type Property struct {
	Name      string
	MaxWidth  int
	MaxHeight int
	IsColor   bool
}

// ControlRange reports the valid value range of a named sensor control.
type ControlRange struct {
	Min int
	Max int
}

// Binding is the capability interface to a sensor SDK. Implementations
// wrap a vendor library or, for the "sim" driver, synthesize frames.
// The session holds exactly one Binding and opens at most one Handle
// through it at a time.
type Binding interface {
	// Enumerate lists attached sensors. An empty slice with a nil error
	// means no device is present (a recoverable condition).
	Enumerate() ([]Descriptor, error)

	// Open claims the sensor at the given enumeration index.
	Open(index int) (Handle, error)
}

// Handle is an open sensor. All methods may fail with ErrDeviceGone once
// the physical device disappears. Handles are not safe for concurrent use;
// the session serializes access.
type Handle interface {
	Property() (Property, error)
	ControlRange(name string) (ControlRange, error)
	SetControl(name string, value int) error

	// SetROI configures readout geometry: the region size after binning,
	// the binning factor and the pixel format.
	SetROI(width, height, binning int, format PixelFormat) error

	// SetROIPosition moves the readout origin without reconfiguring the
	// region size, binning or format.
	SetROIPosition(x, y int) error

	StartStreaming() error
	StopStreaming() error

	// CaptureFrame blocks until one frame is copied into buf or the
	// timeout elapses. It returns the number of bytes written and
	// ErrTimeout when the deadline passed without a frame.
	CaptureFrame(buf []byte, timeout time.Duration) (int, error)

	Close() error
}

// Frame is a copy of the most recent captured image.
type Frame struct {
	Pixels    []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
}

// Package imaging writes captured sensor frames into lossless on-disk
// containers with embedded provenance metadata: PNG for 8-bit mono and
// RGB frames, TIFF for 16-bit mono frames.
package imaging

import (
	"fmt"
	"time"
)

// Software is the producer name recorded in every written container.
const Software = "astrocam camera station"

// Provenance describes where a frame came from. It is embedded into the
// written container: PNG tEXt chunks or TIFF description tags.
type Provenance struct {
	CameraName string
	Exposure   int // microseconds
	Gain       int
	Binning    int
	Format     string
	Width      int
	Height     int
	CapturedAt time.Time
}

// ExposureString renders the exposure in the most readable unit.
func (p *Provenance) ExposureString() string {
	switch {
	case p.Exposure >= 1_000_000:
		return fmt.Sprintf("%.3fs", float64(p.Exposure)/1e6)
	case p.Exposure >= 1_000:
		return fmt.Sprintf("%.1fms", float64(p.Exposure)/1e3)
	default:
		return fmt.Sprintf("%dus", p.Exposure)
	}
}

// LocalString is the capture time in local wall-clock time with
// millisecond precision.
func (p *Provenance) LocalString() string {
	return p.CapturedAt.Format("2006-01-02 15:04:05.000") + " (local)"
}

// UTCString is the capture time in UTC with millisecond precision.
func (p *Provenance) UTCString() string {
	return p.CapturedAt.UTC().Format("2006-01-02 15:04:05.000") + " (UTC)"
}

// ISOString is the capture time as an ISO-8601 UTC timestamp.
func (p *Provenance) ISOString() string {
	return p.CapturedAt.UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

func (p *Provenance) binningString() string {
	return fmt.Sprintf("%dx%d", p.Binning, p.Binning)
}

// description is the one-line summary used for the TIFF ImageDescription tag.
func (p *Provenance) description() string {
	return fmt.Sprintf("Camera: %s, Exposure: %s, Gain: %d, Binning: %s, Captured: %s, UTC: %s",
		p.CameraName, p.ExposureString(), p.Gain, p.binningString(), p.LocalString(), p.UTCString())
}

// textChunks lists the PNG tEXt keyword/value pairs, in write order.
func (p *Provenance) textChunks() [][2]string {
	return [][2]string{
		{"Camera", p.CameraName},
		{"Capture Time Local", p.LocalString()},
		{"Capture Time UTC", p.UTCString()},
		{"Capture Time ISO", p.ISOString()},
		{"Exposure", p.ExposureString()},
		{"Exposure Microseconds", fmt.Sprintf("%d", p.Exposure)},
		{"Gain", fmt.Sprintf("%d", p.Gain)},
		{"Binning", p.binningString()},
		{"Image Format", p.Format},
		{"Width", fmt.Sprintf("%d", p.Width)},
		{"Height", fmt.Sprintf("%d", p.Height)},
		{"Software", Software},
	}
}

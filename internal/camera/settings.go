package camera

import (
	"encoding/json"
	"fmt"
)

const (
	// Sensor readout constraints: width must be a multiple of 8 and at
	// least 64 pixels, height a multiple of 2 and at least 32 pixels.
	roiWidthStep  = 8
	roiWidthMin   = 64
	roiHeightStep = 2
	roiHeightMin  = 32
)

const (
	// ChangeNone means the new settings are identical to the current ones.
	ChangeNone ChangeKind = iota

	// ChangePosition means only the ROI origin moved; the update can be
	// applied in place without interrupting capture.
	ChangePosition

	// ChangeFull means exposure, gain, binning, format, bandwidth or the
	// ROI size changed; capture must be stopped and reconfigured.
	ChangeFull
)

// ChangeKind classifies the difference between two Settings snapshots.
type ChangeKind int

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangePosition:
		return "position"
	default:
		return "full"
	}
}

// Settings is an immutable snapshot of the sensor configuration. Replacing
// the whole snapshot is the only mutation; individual fields are never
// updated in place. The JSON form is the schedule snapshot format.
type Settings struct {
	Exposure        int           `yaml:"exposure" json:"exposure"`               // microseconds
	Gain            int           `yaml:"gain" json:"gain"`                       //
	Binning         int           `yaml:"binning" json:"binning"`                 // 1, 2 or 4
	Format          PixelFormat   `yaml:"format" json:"format"`                   // mono8, mono16, rgb24
	Bandwidth       BandwidthMode `yaml:"bandwidth" json:"bandwidth"`             // min, max
	ROIX            float64       `yaml:"roiX" json:"roi_x"`                      // normalized [0,1]
	ROIY            float64       `yaml:"roiY" json:"roi_y"`                      // normalized [0,1]
	ROIWidth        float64       `yaml:"roiWidth" json:"roi_width"`              // normalized (0,1]
	ROIHeight       float64       `yaml:"roiHeight" json:"roi_height"`            // normalized (0,1]
	MaxRecordingFPS float64       `yaml:"maxRecordingFPS" json:"max_recording_fps"` // 0 = unlimited
}

// DefaultSettings returns the configuration applied before any operator
// or schedule override.
func DefaultSettings() Settings {
	return Settings{
		Exposure:        10000,
		Gain:            100,
		Binning:         1,
		Format:          FormatMono8,
		Bandwidth:       BandwidthMax,
		ROIX:            0,
		ROIY:            0,
		ROIWidth:        1,
		ROIHeight:       1,
		MaxRecordingFPS: 30,
	}
}

func (s *Settings) Validate() error {
	if s.Exposure <= 0 {
		return fmt.Errorf("camera.Settings: exposure must be positive: %d", s.Exposure)
	}
	if s.Binning != 1 && s.Binning != 2 && s.Binning != 4 {
		return fmt.Errorf("camera.Settings: binning must be 1, 2 or 4: %d", s.Binning)
	}
	switch s.Format {
	case FormatMono8, FormatMono16, FormatRGB24:
	default:
		return fmt.Errorf("camera.Settings: invalid pixel format: %s", s.Format)
	}
	switch s.Bandwidth {
	case BandwidthMin, BandwidthMax:
	default:
		return fmt.Errorf("camera.Settings: invalid bandwidth mode: %s", s.Bandwidth)
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{"roiX", s.ROIX},
		{"roiY", s.ROIY},
		{"roiWidth", s.ROIWidth},
		{"roiHeight", s.ROIHeight},
	} {
		if v.value < 0 || v.value > 1 {
			return fmt.Errorf("camera.Settings: %s must be within [0,1]: %f", v.name, v.value)
		}
	}
	if s.MaxRecordingFPS < 0 {
		return fmt.Errorf("camera.Settings: maxRecordingFPS must not be negative: %f", s.MaxRecordingFPS)
	}
	return nil
}

// Diff classifies the transition from s to next. The fast-path decision of
// UpdateSettings is exactly Diff(next) == ChangePosition.
func (s *Settings) Diff(next Settings) ChangeKind {
	full := s.Exposure != next.Exposure ||
		s.Gain != next.Gain ||
		s.Binning != next.Binning ||
		s.Format != next.Format ||
		s.Bandwidth != next.Bandwidth ||
		s.ROIWidth != next.ROIWidth ||
		s.ROIHeight != next.ROIHeight
	if full {
		return ChangeFull
	}
	if s.ROIX != next.ROIX || s.ROIY != next.ROIY {
		return ChangePosition
	}
	// MaxRecordingFPS only throttles the recorder; it needs no sensor
	// reconfiguration and no capture restart.
	return ChangeNone
}

// Snapshot serializes the settings into the schedule snapshot format.
func (s Settings) Snapshot() (string, error) {
	p, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling settings: %w", err)
	}
	return string(p), nil
}

// ParseSnapshot restores a Settings snapshot produced by Snapshot.
func ParseSnapshot(data string) (Settings, error) {
	var s Settings
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return Settings{}, fmt.Errorf("unmarshaling settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// roi is a resolved readout region in binned sensor pixels.
type roi struct {
	X, Y          int
	Width, Height int
}

// resolveROI converts the normalized ROI rectangle into binned sensor
// pixels, rounded to the hardware steps and clamped to the minimum size.
func resolveROI(s Settings, prop Property) roi {
	x := int(s.ROIX * float64(prop.MaxWidth))
	y := int(s.ROIY * float64(prop.MaxHeight))
	w := int(s.ROIWidth * float64(prop.MaxWidth))
	h := int(s.ROIHeight * float64(prop.MaxHeight))

	if s.Binning > 1 {
		x /= s.Binning
		y /= s.Binning
		w /= s.Binning
		h /= s.Binning
	}

	w = (w / roiWidthStep) * roiWidthStep
	h = (h / roiHeightStep) * roiHeightStep
	w = max(w, roiWidthMin)
	h = max(h, roiHeightMin)

	return roi{X: x, Y: y, Width: w, Height: h}
}

// fullFrameROI is the fallback region when the requested ROI is rejected
/// by the sensor: the whole frame at the requested binning.
func fullFrameROI(binning int, prop Property) roi {
	w := prop.MaxWidth / binning
	h := prop.MaxHeight / binning
	w = (w / roiWidthStep) * roiWidthStep
	h = (h / roiHeightStep) * roiHeightStep
	return roi{X: 0, Y: 0, Width: max(w, roiWidthMin), Height: max(h, roiHeightMin)}
}

package camera

// Histogram is a 256-bin intensity distribution of the latest frame.
// Color frames carry per-channel histograms; mono frames a single one,
// with 16-bit samples down-shifted to 8 bits.
type Histogram struct {
	R, G, B []int
	Mono    []int
	Width   int
	Height  int
	Format  PixelFormat
}

// Histogram computes the intensity distribution of the most recent
// captured frame. It fails with ErrNoFrame before the first capture.
func (s *Session) Histogram() (*Histogram, error) {
	frame, err := s.LatestFrame()
	if err != nil {
		return nil, err
	}

	h := Histogram{Width: frame.Width, Height: frame.Height, Format: frame.Format}

	switch frame.Format {
	case FormatRGB24:
		h.R = make([]int, 256)
		h.G = make([]int, 256)
		h.B = make([]int, 256)
		// Sensor RGB frames are in BGR byte order.
		for i := 0; i+2 < len(frame.Pixels); i += 3 {
			h.B[frame.Pixels[i]]++
			h.G[frame.Pixels[i+1]]++
			h.R[frame.Pixels[i+2]]++
		}

	case FormatMono16:
		h.Mono = make([]int, 256)
		for i := 0; i+1 < len(frame.Pixels); i += 2 {
			// Little-endian samples; the high byte is the bucket.
			h.Mono[frame.Pixels[i+1]]++
		}

	default:
		h.Mono = make([]int, 256)
		for _, p := range frame.Pixels {
			h.Mono[p]++
		}
	}

	return &h, nil
}

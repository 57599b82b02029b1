package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultMonitorInterval is how often the connection monitor probes
	// device health and retries connection.
	DefaultMonitorInterval = time.Second

	// stopJoinTimeout bounds how long Stop waits for a loop to exit
	// before proceeding regardless.
	stopJoinTimeout = 2 * time.Second

	// disconnectedRetryWait is how long the capture loop sleeps between
	// iterations while waiting for the monitor to reconnect the sensor.
	disconnectedRetryWait = time.Second

	// captureErrorWait is the pause after a non-timeout capture error
	// before the loop re-evaluates connection state.
	captureErrorWait = 500 * time.Millisecond

	// captureTimeoutMargin and captureTimeoutFloor derive the per-frame
	// capture timeout from the exposure: max(1.5*exposure+margin, floor).
	captureTimeoutMargin = 100 * time.Millisecond
	captureTimeoutFloor  = 200 * time.Millisecond
)

// WithLogger sets the logger for the session.
func WithLogger(logger *slog.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger.With(slog.String("component", "camera"))
	}
}

// WithMonitorInterval overrides the connection monitor poll interval.
func WithMonitorInterval(d time.Duration) func(*Session) {
	return func(s *Session) {
		s.monitorInterval = d
	}
}

// WithSettings sets the initial settings snapshot.
func WithSettings(settings Settings) func(*Session) {
	return func(s *Session) {
		s.settings = settings
	}
}

// WithClock overrides the time source (tests only).
func WithClock(clock func() time.Time) func(*Session) {
	return func(s *Session) {
		s.clock = clock
	}
}

// Status is a read-only snapshot of the session for status queries. It
// always reports current (possibly degraded) state and never errors.
type Status struct {
	Connected   bool
	Capturing   bool
	CameraName  string
	FPS         float64
	Settings    Settings
	FrameWidth  int
	FrameHeight int
	Recording   RecordingStatus
}

// Session owns the sensor connection lifecycle: a capture loop pulling
// frames, a connection monitor re-establishing a lost device, the current
// settings snapshot, the latest-frame buffer, FPS measurement and the
// recorder. All exported methods are safe for concurrent use.
type Session struct {
	binding Binding
	logger  *slog.Logger
	clock   func() time.Time

	monitorInterval time.Duration

	// mu guards the device handle and everything derived from it:
	// properties, settings, the reusable capture buffer and frame
	// geometry. Demoting to disconnected clears the handle in the same
	// critical section so no capture call can race a stale handle.
	mu       sync.Mutex
	handle   Handle
	prop     Property
	settings Settings
	timeout  time.Duration
	buf      []byte
	frameW   int
	frameH   int
	frameFmt PixelFormat

	// connected/capturing are read lock-free; staleness is tolerated
	// because the monitor converges within one poll interval.
	connected atomic.Bool
	capturing atomic.Bool

	// cfgMu serializes settings updates, which span a capture restart.
	cfgMu sync.Mutex

	// capMu serializes capture start/stop transitions, so concurrent
	// StartCapture calls cannot launch a second loop over the first.
	// It guards captureCancel and captureDone. Always taken before mu.
	capMu sync.Mutex

	frameMu sync.Mutex
	latest  Frame

	fps *rateTracker
	rec *Recorder

	captureCancel context.CancelFunc
	captureDone   chan struct{}

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewSession creates a session over the given binding. Frames recorded to
// disk land in per-session directories under capturesDir.
func NewSession(binding Binding, capturesDir string, options ...func(*Session)) *Session {
	s := Session{
		binding:         binding,
		logger:          discardLogger(),
		clock:           time.Now,
		monitorInterval: DefaultMonitorInterval,
		settings:        DefaultSettings(),
		fps:             newRateTracker(),
	}

	for _, option := range options {
		option(&s)
	}

	s.rec = newRecorder(capturesDir, s.logger)
	return &s
}

// Start attempts an initial connection and launches the connection
// monitor. A failed initial connection is not an error; the monitor keeps
// retrying.
func (s *Session) Start(ctx context.Context) {
	if err := s.Connect(); err != nil {
		s.logger.Warn("initial connection failed: " + err.Error())
	}

	ctx, s.monitorCancel = context.WithCancel(ctx)
	s.monitorDone = make(chan struct{})
	go s.monitorLoop(ctx)
}

// Close stops the monitor and capture loops with bounded waits and
// releases the device.
func (s *Session) Close() {
	if s.monitorCancel != nil {
		s.monitorCancel()
		waitBounded(s.monitorDone, stopJoinTimeout)
		s.monitorCancel = nil
	}

	s.StopCapture()

	s.mu.Lock()
	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
	s.connected.Store(false)
	s.mu.Unlock()
}

// Connect enumerates devices, opens the first one and applies the current
// settings. When capture was already requested, streaming is restarted and
// an active recording session continues into its existing directory.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.binding.Enumerate()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return errors.New("no devices found")
	}

	handle, err := s.binding.Open(devices[0].Index)
	if err != nil {
		return fmt.Errorf("opening device %q: %w", devices[0].Name, err)
	}

	prop, err := handle.Property()
	if err != nil {
		_ = handle.Close()
		return fmt.Errorf("reading device properties: %w", err)
	}

	// A previous handle may still be around after an unclean demotion.
	if s.handle != nil {
		_ = s.handle.Close()
	}
	s.handle = handle
	s.prop = prop

	if err = s.configureLocked(); err != nil {
		_ = handle.Close()
		s.handle = nil
		return fmt.Errorf("configuring device: %w", err)
	}

	s.connected.Store(true)
	s.logger.Info("connected", slog.String("camera", prop.Name),
		slog.Int("maxWidth", prop.MaxWidth), slog.Int("maxHeight", prop.MaxHeight))

	if s.capturing.Load() {
		if err = handle.StartStreaming(); err != nil {
			s.logger.Warn("failed to restart streaming after reconnection: " + err.Error())
		} else {
			s.logger.Info("restarted streaming after reconnection")
			if rs := s.rec.Status(); rs.Active {
				s.logger.Info("continuing recording", slog.String("directory", rs.Directory),
					slog.Int64("frames", rs.Frames))
			}
		}
	}

	return nil
}

// configureLocked applies the current settings snapshot to the open
// handle: bandwidth, gain, exposure, pixel format (with mono fallback),
// readout region, capture timeout and the reusable frame buffer. Callers
// hold s.mu.
func (s *Session) configureLocked() error {
	h := s.handle

	bw, err := h.ControlRange(ControlBandwidth)
	if err != nil {
		return fmt.Errorf("reading bandwidth range: %w", err)
	}
	bwValue := bw.Min
	if s.settings.Bandwidth == BandwidthMax {
		bwValue = bw.Max
	}
	if err = h.SetControl(ControlBandwidth, bwValue); err != nil {
		return fmt.Errorf("setting bandwidth: %w", err)
	}

	if err = h.SetControl(ControlGain, s.settings.Gain); err != nil {
		return fmt.Errorf("setting gain: %w", err)
	}
	if err = h.SetControl(ControlExposure, s.settings.Exposure); err != nil {
		return fmt.Errorf("setting exposure: %w", err)
	}

	if s.settings.Format == FormatRGB24 && !s.prop.IsColor {
		s.logger.Warn("rgb24 requested on a mono sensor, using mono8")
		corrected := s.settings
		corrected.Format = FormatMono8
		s.settings = corrected
	}

	region := resolveROI(s.settings, s.prop)
	if err = applyRegion(h, region, s.settings.Binning, s.settings.Format); err != nil {
		// Requested region or origin rejected by the sensor: fall back to
		// the full frame at the requested binning. Not a failure of the
		// update.
		s.logger.Warn("failed to set ROI, falling back to full frame: " + err.Error())
		region = fullFrameROI(s.settings.Binning, s.prop)
		if err = applyRegion(h, region, s.settings.Binning, s.settings.Format); err != nil {
			return fmt.Errorf("setting fallback ROI: %w", err)
		}
	}

	exposure := time.Duration(s.settings.Exposure) * time.Microsecond
	s.timeout = max(exposure*3/2+captureTimeoutMargin, captureTimeoutFloor)

	size := region.Width * region.Height * s.settings.Format.BytesPerPixel()
	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	} else {
		s.buf = s.buf[:size]
	}
	s.frameW = region.Width
	s.frameH = region.Height
	s.frameFmt = s.settings.Format

	s.logger.Debug("configured",
		slog.Int("width", region.Width), slog.Int("height", region.Height),
		slog.Int("binning", s.settings.Binning), slog.String("format", s.settings.Format.String()),
		slog.Duration("captureTimeout", s.timeout))

	return nil
}

// applyRegion configures the readout region and its origin as one unit:
// a rejected origin invalidates the region the same way a rejected size
// does.
func applyRegion(h Handle, region roi, binning int, format PixelFormat) error {
	if err := h.SetROI(region.Width, region.Height, binning, format); err != nil {
		return err
	}
	if err := h.SetROIPosition(region.X, region.Y); err != nil {
		return fmt.Errorf("positioning region: %w", err)
	}
	return nil
}

// demote transitions to disconnected, clearing the handle atomically so a
// concurrent capture call cannot use a stale device.
func (s *Session) demote() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		_ = s.handle.Close()
		s.handle = nil
	}
	s.connected.Store(false)
}

// monitorLoop is the only writer promoting disconnected to connected.
func (s *Session) monitorLoop(ctx context.Context) {
	defer close(s.monitorDone)

	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.connected.Load() {
			if !s.probe() {
				s.logger.Warn("camera connection lost, waiting for reconnection")
				s.demote()
			}
			continue
		}

		if err := s.Connect(); err != nil {
			s.logger.Debug("reconnect attempt failed: " + err.Error())
		} else {
			s.logger.Info("camera reconnected")
		}
	}
}

// probe verifies that the device is still reachable.
func (s *Session) probe() bool {
	devices, err := s.binding.Enumerate()
	if err != nil || len(devices) == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// StartCapture begins streaming and launches the capture loop. It is
// idempotent and fails with ErrNotConnected while the sensor is away.
func (s *Session) StartCapture() error {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	if s.capturing.Load() {
		return nil
	}
	if !s.connected.Load() {
		return ErrNotConnected
	}

	s.mu.Lock()
	h := s.handle
	if h == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	err := h.StartStreaming()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("starting streaming: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.captureCancel = cancel
	s.captureDone = make(chan struct{})
	s.capturing.Store(true)
	go s.captureLoop(ctx, s.captureDone)

	s.logger.Info("capture started")
	return nil
}

// StopCapture signals the capture loop to exit, joins it with a bounded
// wait and stops streaming. It is idempotent.
func (s *Session) StopCapture() {
	s.capMu.Lock()
	defer s.capMu.Unlock()

	if !s.capturing.Load() {
		return
	}

	s.capturing.Store(false)
	if s.captureCancel != nil {
		s.captureCancel()
		waitBounded(s.captureDone, stopJoinTimeout)
		s.captureCancel = nil
	}

	s.mu.Lock()
	if s.handle != nil {
		_ = s.handle.StopStreaming()
	}
	s.mu.Unlock()

	s.fps.Reset()
	s.logger.Info("capture stopped")
}

// captureLoop pulls one frame at a time until stop-signalled. While
// disconnected it idles, waiting for the monitor to bring the device
// back; a non-timeout capture error demotes the connection.
func (s *Session) captureLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		if !s.connected.Load() {
			if !waitCtx(ctx, disconnectedRetryWait) {
				return
			}
			continue
		}

		s.mu.Lock()
		h := s.handle
		buf := s.buf
		timeout := s.timeout
		w, hgt, format := s.frameW, s.frameH, s.frameFmt
		settings := s.settings
		name := s.prop.Name
		s.mu.Unlock()

		if h == nil {
			if !waitCtx(ctx, disconnectedRetryWait) {
				return
			}
			continue
		}

		n, err := h.CaptureFrame(buf, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrTimeout) {
				continue
			}
			s.logger.Warn("capture error, demoting connection: " + err.Error())
			s.demote()
			if !waitCtx(ctx, captureErrorWait) {
				return
			}
			continue
		}

		now := s.clock()

		s.frameMu.Lock()
		if cap(s.latest.Pixels) < n {
			s.latest.Pixels = make([]byte, n)
		}
		s.latest.Pixels = s.latest.Pixels[:n]
		copy(s.latest.Pixels, buf[:n])
		s.latest.Width = w
		s.latest.Height = hgt
		s.latest.Format = format
		s.latest.Timestamp = now
		s.frameMu.Unlock()

		s.fps.Add(now)

		frame := Frame{Pixels: buf[:n], Width: w, Height: hgt, Format: format, Timestamp: now}
		s.rec.Record(&frame, settings, name)
	}
}

// UpdateSettings replaces the settings snapshot. A position-only change
// moves the readout origin in place without interrupting capture; any
// other change stops capture, reconfigures the device and restarts
// capture, leaving an active recording session untouched.
func (s *Session) UpdateSettings(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.mu.Lock()
	kind := s.settings.Diff(next)

	switch kind {
	case ChangeNone:
		s.settings = next
		s.mu.Unlock()
		return nil

	case ChangePosition:
		s.settings = next
		if s.handle != nil && s.connected.Load() {
			region := resolveROI(s.settings, s.prop)
			if err := s.handle.SetROIPosition(region.X, region.Y); err != nil {
				// Position update rejected; reconfigure from scratch.
				s.logger.Warn("ROI position update failed, reconfiguring: " + err.Error())
				s.mu.Unlock()
				return s.reconfigure()
			}
			s.logger.Debug("ROI position updated", slog.Int("x", region.X), slog.Int("y", region.Y))
		}
		s.mu.Unlock()
		return nil

	default:
		s.settings = next
		s.mu.Unlock()
		return s.reconfigure()
	}
}

// reconfigure applies the current snapshot with a full capture restart,
// preserving recording state across it.
func (s *Session) reconfigure() error {
	wasCapturing := s.capturing.Load()
	if wasCapturing {
		s.StopCapture()
	}

	s.mu.Lock()
	var err error
	if s.handle != nil && s.connected.Load() {
		err = s.configureLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if wasCapturing {
		if err := s.StartCapture(); err != nil {
			return fmt.Errorf("restarting capture: %w", err)
		}
	}
	return nil
}

// LatestFrame returns a copy of the most recent captured frame. It never
// blocks on the capture loop.
func (s *Session) LatestFrame() (Frame, error) {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	if s.latest.Pixels == nil {
		return Frame{}, ErrNoFrame
	}

	out := s.latest
	out.Pixels = make([]byte, len(s.latest.Pixels))
	copy(out.Pixels, s.latest.Pixels)
	return out, nil
}

// FPS reports the capture rate over the trailing measurement window.
func (s *Session) FPS() float64 {
	return s.fps.Rate()
}

// Settings returns the current settings snapshot.
func (s *Session) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// StartRecording begins a manual recording session. Starting while a
// session is active is a no-op.
func (s *Session) StartRecording() (RecordingStatus, error) {
	return s.rec.Start(0, "", s.clock())
}

// StartScheduledRecording begins a recording session owned by a schedule.
func (s *Session) StartScheduledRecording(name string, scheduleID int64) (RecordingStatus, error) {
	return s.rec.Start(scheduleID, name, s.clock())
}

// StopRecording ends the active recording session, if any, and returns
// its final status.
func (s *Session) StopRecording() RecordingStatus {
	return s.rec.Stop()
}

// RecordingStatus reports the recorder state.
func (s *Session) RecordingStatus() RecordingStatus {
	return s.rec.Status()
}

// EnsureCapturing starts capture unless it is already running.
func (s *Session) EnsureCapturing() error {
	return s.StartCapture()
}

// ApplySettings is UpdateSettings under the name the schedule runner's
// controller interface uses.
func (s *Session) ApplySettings(settings Settings) error {
	return s.UpdateSettings(settings)
}

// Status returns a read-only snapshot for the transport layer. It always
// succeeds, reporting degraded state as-is.
func (s *Session) Status() Status {
	s.mu.Lock()
	name := s.prop.Name
	settings := s.settings
	w, h := s.frameW, s.frameH
	s.mu.Unlock()

	return Status{
		Connected:   s.connected.Load(),
		Capturing:   s.capturing.Load(),
		CameraName:  name,
		FPS:         s.fps.Rate(),
		Settings:    settings,
		FrameWidth:  w,
		FrameHeight: h,
		Recording:   s.rec.Status(),
	}
}

// waitCtx sleeps for d or until ctx is cancelled. It reports false when
// cancelled.
func waitCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// waitBounded waits for a loop to close its done channel, proceeding
// regardless after the timeout.
func waitBounded(done chan struct{}, timeout time.Duration) {
	if done == nil {
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
	}
}

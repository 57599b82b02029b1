package camera

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/astrocam/internal/imaging"
)

const dirTimestampFormat = "20060102_150405"

// RecordingStatus is a read-only snapshot of the recorder state.
type RecordingStatus struct {
	Active     bool
	ID         string // session UUID, empty when inactive
	Directory  string
	ScheduleID int64 // 0 for a manual session
	Frames     int64
	StartedAt  time.Time
}

// Recorder writes frames arriving from the capture loop into the active
// recording session's directory, throttled to the configured maximum
// recording rate. At most one session is active at a time; Start while a
// session is running is a no-op. The capture loop and the schedule runner
// both mutate recorder state and serialize through its single lock.
type Recorder struct {
	capturesDir string
	logger      *slog.Logger

	mu         sync.Mutex
	active     bool
	id         string
	dir        string
	scheduleID int64
	frames     int64
	lastWrite  time.Time
	startedAt  time.Time
}

func newRecorder(capturesDir string, logger *slog.Logger) *Recorder {
	return &Recorder{capturesDir: capturesDir, logger: logger}
}

// sanitizeName reduces a schedule name to characters safe in a directory
// name, the way the capture directories have always been named.
func sanitizeName(name string) string {
	var sb strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			sb.WriteRune(c)
		case c == ' ', c == '-', c == '_':
			sb.WriteRune(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// Start begins a new recording session. name is empty for a manual
// session; a schedule-owned session carries the schedule's name and id.
// If a session is already active its status is returned unchanged.
func (r *Recorder) Start(scheduleID int64, name string, now time.Time) (RecordingStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return r.statusLocked(), nil
	}

	dirName := now.Format(dirTimestampFormat)
	if s := sanitizeName(name); s != "" {
		dirName += "_" + s
	}
	dir := filepath.Join(r.capturesDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return RecordingStatus{}, fmt.Errorf("creating recording directory: %w", err)
	}

	r.active = true
	r.id = uuid.NewString()
	r.dir = dir
	r.scheduleID = scheduleID
	r.frames = 0
	r.lastWrite = time.Time{}
	r.startedAt = now

	r.logger.Info("recording started",
		slog.String("recordingID", r.id),
		slog.String("directory", dir),
		slog.Int64("scheduleID", scheduleID))

	return r.statusLocked(), nil
}

// Stop ends the active session and returns its final status. Stopping an
// inactive recorder is a no-op returning the (inactive) status.
func (r *Recorder) Stop() RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return r.statusLocked()
	}

	final := r.statusLocked()
	final.Active = false

	r.logger.Info("recording stopped",
		slog.String("recordingID", r.id),
		slog.String("directory", r.dir),
		slog.String("frames", humanize.Comma(r.frames)))

	r.active = false
	r.id = ""
	r.dir = ""
	r.scheduleID = 0
	r.frames = 0
	r.lastWrite = time.Time{}
	r.startedAt = time.Time{}

	return final
}

// Status returns the current recorder state.
func (r *Recorder) Status() RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() RecordingStatus {
	return RecordingStatus{
		Active:     r.active,
		ID:         r.id,
		Directory:  r.dir,
		ScheduleID: r.scheduleID,
		Frames:     r.frames,
		StartedAt:  r.startedAt,
	}
}

// Record writes one captured frame into the active session. It is a no-op
// without an active session. Frames arriving faster than the configured
// maximum recording rate are skipped. A write failure drops the frame and
// keeps the session running.
func (r *Recorder) Record(frame *Frame, settings Settings, cameraName string) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return
	}

	if settings.MaxRecordingFPS > 0 {
		minInterval := time.Duration(float64(time.Second) / settings.MaxRecordingFPS)
		if !r.lastWrite.IsZero() && frame.Timestamp.Sub(r.lastWrite) < minInterval {
			r.mu.Unlock()
			return
		}
	}

	id := r.id
	name := frame.Timestamp.Format(dirTimestampFormat) +
		fmt.Sprintf("_%03d", frame.Timestamp.Nanosecond()/int(time.Millisecond)) +
		imaging.Ext(frame.Format.String())
	path := filepath.Join(r.dir, name)
	r.mu.Unlock()

	// The disk write happens outside the lock so status queries and
	// start/stop calls never wait on storage.
	prov := &imaging.Provenance{
		CameraName: cameraName,
		Exposure:   settings.Exposure,
		Gain:       settings.Gain,
		Binning:    settings.Binning,
		Format:     frame.Format.String(),
		Width:      frame.Width,
		Height:     frame.Height,
		CapturedAt: frame.Timestamp,
	}
	if err := imaging.WriteFrame(path, frame.Pixels, prov); err != nil {
		r.logger.Error("dropping frame: "+err.Error(), slog.String("path", path))
		return
	}

	// lastWrite only advances on a persisted frame, so a failed write does
	// not consume the rate-limit slot.
	r.mu.Lock()
	if r.active && r.id == id {
		r.frames++
		r.lastWrite = frame.Timestamp
		if r.frames == 1 {
			r.logger.Debug("first frame written",
				slog.String("path", path),
				slog.String("size", humanize.Bytes(uint64(len(frame.Pixels)))))
		}
	}
	r.mu.Unlock()
}

// discardLogger mirrors the default used across the codebase for
// components created without WithLogger.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package camera

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testFrame(ts time.Time) *Frame {
	pixels := make([]byte, 64*32)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	return &Frame{
		Pixels:    pixels,
		Width:     64,
		Height:    32,
		Format:    FormatMono8,
		Timestamp: ts,
	}
}

func TestRecorder_StartStop(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())
	now := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	status, err := r.Start(7, "M42 Orion", now)
	if err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}
	if !status.Active {
		t.Error("Expected recording to be active")
	}
	if status.ID == "" {
		t.Error("Expected a recording ID")
	}
	if status.ScheduleID != 7 {
		t.Errorf("Expected schedule ID 7, got %d", status.ScheduleID)
	}

	wantDir := filepath.Join(dir, "20250601_223000_M42 Orion")
	if status.Directory != wantDir {
		t.Errorf("Expected directory %s, got %s", wantDir, status.Directory)
	}
	if _, err := os.Stat(wantDir); err != nil {
		t.Errorf("Expected recording directory to exist: %v", err)
	}

	// Starting again while active keeps the running session.
	again, err := r.Start(9, "other", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Failed on second start: %v", err)
	}
	if again.ID != status.ID {
		t.Error("Second start should return the running session")
	}

	final := r.Stop()
	if final.Active {
		t.Error("Expected final status to be inactive")
	}
	if final.ID != status.ID {
		t.Errorf("Expected final ID %s, got %s", status.ID, final.ID)
	}

	// Stop is idempotent.
	if st := r.Stop(); st.Active {
		t.Error("Stop on idle recorder should report inactive")
	}
}

func TestRecorder_DirectoryNameSanitized(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())
	now := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	status, err := r.Start(1, "../etc/passwd: M31!", now)
	if err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}
	defer r.Stop()

	base := filepath.Base(status.Directory)
	if base != "20250601_223000_etcpasswd M31" {
		t.Errorf("Unexpected directory name %q", base)
	}
	if strings.Contains(base, "/") || strings.Contains(base, "..") {
		t.Errorf("Directory name %q not sanitized", base)
	}
}

func TestRecorder_RateLimit(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())
	start := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	if _, err := r.Start(0, "", start); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	settings := DefaultSettings()
	settings.MaxRecordingFPS = 10

	// Frames arriving at ~30 fps for one second; at most 10 fps may land
	// on disk, at least 100ms apart.
	for i := 0; i < 30; i++ {
		r.Record(testFrame(start.Add(time.Duration(i)*33*time.Millisecond)), settings, "Test Camera")
	}

	final := r.Stop()
	// Accepted frames: 0ms, 132ms, 264ms, ... every 4th frame.
	if final.Frames != 8 {
		t.Errorf("Expected 8 frames after throttling, got %d", final.Frames)
	}

	entries, err := os.ReadDir(final.Directory)
	if err != nil {
		t.Fatalf("Failed to read recording directory: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("Expected 8 files on disk, got %d", len(entries))
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".png") {
			t.Errorf("Expected .png file, got %s", e.Name())
		}
	}
}

func TestRecorder_UnlimitedRate(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())
	start := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	if _, err := r.Start(0, "", start); err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	settings := DefaultSettings()
	settings.MaxRecordingFPS = 0

	for i := 0; i < 5; i++ {
		r.Record(testFrame(start.Add(time.Duration(i)*10*time.Millisecond)), settings, "Test Camera")
	}

	if final := r.Stop(); final.Frames != 5 {
		t.Errorf("Expected all 5 frames recorded, got %d", final.Frames)
	}
}

func TestRecorder_InactiveRecordIsNoop(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())

	r.Record(testFrame(time.Now()), DefaultSettings(), "Test Camera")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read captures directory: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no files without an active session, got %d", len(entries))
	}
}

func TestRecorder_FailedWriteKeepsRateSlot(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())
	start := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	status, err := r.Start(0, "", start)
	if err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	settings := DefaultSettings()
	settings.MaxRecordingFPS = 10

	// The first frame fails to write; nothing was persisted, so it must
	// not count against the rate limit.
	if err := os.RemoveAll(status.Directory); err != nil {
		t.Fatalf("Failed to remove recording directory: %v", err)
	}
	r.Record(testFrame(start.Add(10*time.Millisecond)), settings, "Test Camera")

	// 33ms later, well inside the 100ms the failed frame would have
	// reserved.
	if err := os.MkdirAll(status.Directory, 0o755); err != nil {
		t.Fatalf("Failed to restore recording directory: %v", err)
	}
	r.Record(testFrame(start.Add(43*time.Millisecond)), settings, "Test Camera")

	if final := r.Stop(); final.Frames != 1 {
		t.Errorf("Expected the frame after the failed write to land, got %d", final.Frames)
	}
}

func TestRecorder_WriteFailureDropsFrame(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder(dir, discardLogger())
	start := time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC)

	status, err := r.Start(0, "", start)
	if err != nil {
		t.Fatalf("Failed to start recording: %v", err)
	}

	// Make the session directory unwritable so the frame write fails.
	if err := os.RemoveAll(status.Directory); err != nil {
		t.Fatalf("Failed to remove recording directory: %v", err)
	}

	r.Record(testFrame(start.Add(10*time.Millisecond)), DefaultSettings(), "Test Camera")

	final := r.Stop()
	if final.Frames != 0 {
		t.Errorf("Expected 0 frames after failed write, got %d", final.Frames)
	}
}

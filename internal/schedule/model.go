// Package schedule persists capture reservations and runs them against a
// camera session. A reservation is a named time window; at most one window
// occupies any instant, enforced at creation time and re-checked by the
// runner before it starts recording.
package schedule

import (
	"time"
)

// Status is the lifecycle state of a schedule.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the schedule can no longer change state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// timeFormat is the storage representation of schedule times: local naive
// ISO without zone, so lexicographic comparison in SQL is chronological.
const timeFormat = "2006-01-02T15:04:05"

// Schedule is one capture reservation.
type Schedule struct {
	ID          int64
	Name        string
	StartTime   time.Time
	EndTime     time.Time
	Status      Status
	Description string

	// Settings is the JSON camera settings snapshot to apply when the
	// window opens; empty means record with whatever is current.
	Settings string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	FramesCaptured     int64
	RecordingDirectory string
}

func formatTime(t time.Time) string {
	return t.Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeFormat, s, time.Local)
}

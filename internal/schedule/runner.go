package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roman-kulish/astrocam/internal/camera"
)

const (
	// DefaultPollInterval is how often the runner re-evaluates schedule
	// windows against the clock.
	DefaultPollInterval = 30 * time.Second

	// DefaultStartTolerance bounds how far from its window boundary a
	// pending schedule may start: up to this much ahead of the start
	// time, and at most this much late before it is failed instead.
	DefaultStartTolerance = time.Minute
)

// Controller is the slice of the camera session the runner drives.
type Controller interface {
	ApplySettings(settings camera.Settings) error
	EnsureCapturing() error
	StartScheduledRecording(name string, scheduleID int64) (camera.RecordingStatus, error)
	StopRecording() camera.RecordingStatus
	RecordingStatus() camera.RecordingStatus
}

// RunnerStatus is a snapshot of what the runner is doing and what comes
// next.
type RunnerStatus struct {
	Active    *Schedule
	Next      *Schedule
	Recording camera.RecordingStatus
}

// Runner polls the store and starts and ends recordings as schedule
// windows open and close. One runner drives one camera session.
type Runner struct {
	store  *Store
	ctrl   Controller
	logger *slog.Logger

	pollInterval   time.Duration
	startTolerance time.Duration
	now            func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger. Without it logs are discarded.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithPollInterval overrides how often the runner checks the schedule.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithStartTolerance overrides the start tolerance window.
func WithStartTolerance(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.startTolerance = d
		}
	}
}

// WithClock overrides the runner clock.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner over the given store and camera controller.
func NewRunner(store *Store, ctrl Controller, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:          store,
		ctrl:           ctrl,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		pollInterval:   DefaultPollInterval,
		startTolerance: DefaultStartTolerance,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run recovers interrupted schedules and then polls until ctx is
// cancelled. It blocks; run it in its own goroutine.
func (r *Runner) Run(ctx context.Context) {
	if err := r.Recover(ctx); err != nil {
		r.logger.Error("schedule recovery failed: " + err.Error())
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		r.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Recover resumes recording for the earliest schedule that should be
// running right now. It covers both schedules interrupted mid-recording
// by a restart and pending schedules whose window opened while the
// process was down. The schedule row is kept, so frames captured after
// the restart stay attributed to it.
func (r *Runner) Recover(ctx context.Context) error {
	now := r.now()
	due, err := r.store.FindDue(ctx, now)
	if err != nil {
		return fmt.Errorf("finding due schedules: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	sched := due[0]
	r.logger.Info("resuming interrupted schedule",
		slog.Int64("scheduleID", sched.ID),
		slog.String("name", sched.Name),
		slog.Time("endTime", sched.EndTime))

	r.start(ctx, sched)
	return nil
}

func (r *Runner) tick(ctx context.Context) {
	now := r.now()

	r.checkEnd(ctx, now)

	if n, err := r.store.MarkExpired(ctx, now); err != nil {
		r.logger.Error("expiring schedules: " + err.Error())
	} else if n > 0 {
		r.logger.Warn("expired unstarted schedules", slog.Int64("count", n))
	}

	r.checkStart(ctx, now)
}

// checkEnd finishes active schedules whose window has closed.
func (r *Runner) checkEnd(ctx context.Context, now time.Time) {
	active, err := r.store.FindActive(ctx)
	if err != nil {
		r.logger.Error("finding active schedules: " + err.Error())
		return
	}

	for _, sched := range active {
		if sched.EndTime.After(now) {
			continue
		}

		frames := sched.FramesCaptured
		if st := r.ctrl.RecordingStatus(); st.Active && st.ScheduleID == sched.ID {
			final := r.ctrl.StopRecording()
			frames = final.Frames
		}

		if err := r.store.MarkFinished(ctx, sched.ID, StatusCompleted, now, frames); err != nil {
			r.logger.Error("completing schedule: "+err.Error(), slog.Int64("scheduleID", sched.ID))
			continue
		}

		r.logger.Info("schedule completed",
			slog.Int64("scheduleID", sched.ID),
			slog.String("name", sched.Name),
			slog.Int64("frames", frames))
	}
}

// checkStart starts the earliest startable schedule. A pending schedule
// may begin up to the tolerance ahead of its window, so recording is
// already rolling at the window boundary; one that missed its start by
// more than the tolerance is failed instead.
func (r *Runner) checkStart(ctx context.Context, now time.Time) {
	due, err := r.store.FindStartable(ctx, now, now.Add(r.startTolerance))
	if err != nil {
		r.logger.Error("finding startable schedules: " + err.Error())
		return
	}

	for _, sched := range due {
		if sched.Status == StatusActive {
			// Already recording; nothing can start behind it.
			return
		}

		if now.Sub(sched.StartTime) > r.startTolerance {
			r.fail(ctx, sched, fmt.Sprintf("missed start window by %s", now.Sub(sched.StartTime).Round(time.Second)))
			continue
		}

		r.start(ctx, sched)
		return
	}
}

// start applies the schedule's settings snapshot, makes sure frames are
// flowing and begins a recording owned by the schedule. Any step failing
// marks the schedule failed; in particular a manual recording in progress
// is never preempted.
func (r *Runner) start(ctx context.Context, sched *Schedule) {
	if st := r.ctrl.RecordingStatus(); st.Active && st.ScheduleID != sched.ID {
		r.fail(ctx, sched, "another recording is in progress")
		return
	}

	if sched.Settings != "" {
		settings, err := camera.ParseSnapshot(sched.Settings)
		if err != nil {
			r.fail(ctx, sched, "invalid settings snapshot: "+err.Error())
			return
		}
		if err := r.ctrl.ApplySettings(settings); err != nil {
			r.fail(ctx, sched, "applying settings: "+err.Error())
			return
		}
	}

	if err := r.ctrl.EnsureCapturing(); err != nil {
		r.fail(ctx, sched, "starting capture: "+err.Error())
		return
	}

	st, err := r.ctrl.StartScheduledRecording(sched.Name, sched.ID)
	if err != nil {
		r.fail(ctx, sched, "starting recording: "+err.Error())
		return
	}

	if err := r.store.MarkStarted(ctx, sched.ID, r.now(), st.Directory); err != nil {
		r.logger.Error("marking schedule started: "+err.Error(), slog.Int64("scheduleID", sched.ID))
		return
	}

	r.logger.Info("schedule started",
		slog.Int64("scheduleID", sched.ID),
		slog.String("name", sched.Name),
		slog.String("directory", st.Directory),
		slog.Time("endTime", sched.EndTime))
}

func (r *Runner) fail(ctx context.Context, sched *Schedule, reason string) {
	r.logger.Warn("schedule failed: "+reason,
		slog.Int64("scheduleID", sched.ID),
		slog.String("name", sched.Name))

	if err := r.store.AppendFailureNote(ctx, sched.ID, reason); err != nil {
		r.logger.Error("recording failure note: "+err.Error(), slog.Int64("scheduleID", sched.ID))
	}
	if err := r.store.MarkFinished(ctx, sched.ID, StatusFailed, r.now(), sched.FramesCaptured); err != nil {
		r.logger.Error("marking schedule failed: "+err.Error(), slog.Int64("scheduleID", sched.ID))
	}
}

// Cancel stops a schedule. A pending schedule is simply marked cancelled;
// an active one has its recording stopped first, keeping the frame count.
func (r *Runner) Cancel(ctx context.Context, id int64) error {
	sched, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if sched.Status.Terminal() {
		return fmt.Errorf("%w: schedule %d is %s", ErrScheduleTerminal, id, sched.Status)
	}

	frames := sched.FramesCaptured
	if sched.Status == StatusActive {
		if st := r.ctrl.RecordingStatus(); st.Active && st.ScheduleID == sched.ID {
			final := r.ctrl.StopRecording()
			frames = final.Frames
		}
	}

	if err := r.store.MarkFinished(ctx, id, StatusCancelled, r.now(), frames); err != nil {
		return err
	}

	r.logger.Info("schedule cancelled",
		slog.Int64("scheduleID", id),
		slog.String("name", sched.Name))
	return nil
}

// Status reports the currently active schedule, the next pending one and
// the recorder state.
func (r *Runner) Status(ctx context.Context) (RunnerStatus, error) {
	status := RunnerStatus{Recording: r.ctrl.RecordingStatus()}

	active, err := r.store.FindActive(ctx)
	if err != nil {
		return status, err
	}
	if len(active) > 0 {
		status.Active = active[0]
	}

	next, err := r.store.FindNextPending(ctx, r.now())
	if err != nil {
		return status, err
	}
	status.Next = next

	return status, nil
}

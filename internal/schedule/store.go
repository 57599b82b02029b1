package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrInvalidWindow means the requested window is empty or starts in
	// the past.
	ErrInvalidWindow = errors.New("schedule: invalid time window")

	// ErrScheduleConflict means the requested window overlaps a pending
	// or active schedule.
	ErrScheduleConflict = errors.New("schedule: window conflicts with an existing schedule")

	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrScheduleTerminal means the schedule already reached a final
	// state and cannot change.
	ErrScheduleTerminal = errors.New("schedule: already in a terminal state")
)

// Store persists schedules in a SQLite database. Writes go through a lazily
// opened WAL connection, reads through a separate read-only connection.
type Store struct {
	dbPath string
	now    func() time.Time

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNow overrides the clock used for window validation.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store backed by the SQLite database at dbPath. The
// database file and schema are created on first write.
func NewStore(dbPath string, opts ...StoreOption) *Store {
	s := &Store{dbPath: dbPath, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *Store) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_txlock=immediate&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *Store) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// Schema creation goes through the write connection; force it
		// before a read-only handle can observe a missing file.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// Create validates and stores a new pending schedule, returning its id.
// The window must lie in the future and must not overlap any pending or
// active schedule; touching boundaries do not overlap.
func (s *Store) Create(ctx context.Context, sched *Schedule) (id int64, err error) {
	if !sched.EndTime.After(sched.StartTime) {
		return 0, fmt.Errorf("%w: end %s is not after start %s",
			ErrInvalidWindow, formatTime(sched.EndTime), formatTime(sched.StartTime))
	}
	if !sched.StartTime.After(s.now()) {
		return 0, fmt.Errorf("%w: start %s is in the past", ErrInvalidWindow, formatTime(sched.StartTime))
	}

	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	start, end := formatTime(sched.StartTime), formatTime(sched.EndTime)

	// The conflict check and the insert must observe the table atomically,
	// or two overlapping windows racing through Create could both pass the
	// check. The write connection opens transactions immediately, so the
	// second writer blocks here until the first commits.
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var conflicts int
	if err = tx.QueryRowContext(ctx, selectConflictSQL, start, end).Scan(&conflicts); err != nil {
		return 0, fmt.Errorf("checking conflicts: %w", err)
	}
	if conflicts > 0 {
		err = ErrScheduleConflict
		return 0, err
	}

	result, err := tx.ExecContext(ctx, insertScheduleSQL, sched.Name, start, end, StatusPending, sched.Description, sched.Settings)
	if err != nil {
		return 0, fmt.Errorf("inserting schedule: %w", err)
	}

	if id, err = result.LastInsertId(); err != nil {
		return 0, fmt.Errorf("getting schedule ID: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing schedule: %w", err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var (
		sched              Schedule
		start, end         string
		started, completed sql.NullString
	)
	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&start,
		&end,
		&sched.Status,
		&sched.Description,
		&sched.Settings,
		&sched.CreatedAt,
		&started,
		&completed,
		&sched.FramesCaptured,
		&sched.RecordingDirectory,
	)
	if err != nil {
		return nil, err
	}

	if sched.StartTime, err = parseTime(start); err != nil {
		return nil, fmt.Errorf("parsing start time: %w", err)
	}
	if sched.EndTime, err = parseTime(end); err != nil {
		return nil, fmt.Errorf("parsing end time: %w", err)
	}
	if started.Valid {
		t, err := parseTime(started.String)
		if err != nil {
			return nil, fmt.Errorf("parsing started time: %w", err)
		}
		sched.StartedAt = &t
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed time: %w", err)
		}
		sched.CompletedAt = &t
	}

	return &sched, nil
}

// Get returns one schedule by id.
func (s *Store) Get(ctx context.Context, id int64) (sched *Schedule, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectScheduleSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	sched, err = scanSchedule(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning schedule: %w", err)
	}
	return sched, nil
}

func (s *Store) queryList(ctx context.Context, query string, args ...any) (schedules []*Schedule, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sched *Schedule
		if sched, err = scanSchedule(rows); err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// List returns all schedules ordered by window start.
func (s *Store) List(ctx context.Context) ([]*Schedule, error) {
	return s.queryList(ctx, selectSchedulesSQL)
}

// FindDue returns schedules that should be recording at the given instant:
// active ones (interrupted by a restart) and pending ones whose window has
// opened, earliest first.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	return s.queryList(ctx, selectDueSQL, formatTime(now))
}

// FindStartable returns schedules the runner should attend to at the
// given instant: active ones and pending ones starting no later than the
// horizon, earliest first.
func (s *Store) FindStartable(ctx context.Context, now, horizon time.Time) ([]*Schedule, error) {
	return s.queryList(ctx, selectStartableSQL, formatTime(now), formatTime(horizon))
}

// FindActive returns schedules currently marked active.
func (s *Store) FindActive(ctx context.Context) ([]*Schedule, error) {
	return s.queryList(ctx, selectActiveSQL)
}

// FindNextPending returns the earliest pending schedule starting after now,
// or nil when there is none.
func (s *Store) FindNextPending(ctx context.Context, now time.Time) (*Schedule, error) {
	schedules, err := s.queryList(ctx, selectNextPendingSQL, formatTime(now))
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, nil
	}
	return schedules[0], nil
}

// SetStatus moves a schedule to the given status. Terminal schedules are
// immutable; changing one fails with ErrScheduleTerminal.
func (s *Store) SetStatus(ctx context.Context, id int64, status Status) (err error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("%w: schedule %d is %s", ErrScheduleTerminal, id, current.Status)
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, updateStatusSQL, status, id); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

// MarkStarted moves a schedule to active, stamping when recording began and
// where frames are going. Re-starting an interrupted active schedule
// refreshes the stamp but keeps the row, so frames stay attributed to it.
func (s *Store) MarkStarted(ctx context.Context, id int64, startedAt time.Time, directory string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, updateStartedSQL, formatTime(startedAt), directory, id)
	if err != nil {
		return fmt.Errorf("marking schedule started: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// MarkFinished moves a schedule to a terminal status, recording when it
// ended and how many frames it captured.
func (s *Store) MarkFinished(ctx context.Context, id int64, status Status, completedAt time.Time, frames int64) (err error) {
	if !status.Terminal() {
		return fmt.Errorf("schedule: %s is not a terminal status", status)
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, updateFinishedSQL, status, formatTime(completedAt), frames, id)
	if err != nil {
		return fmt.Errorf("marking schedule finished: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// AppendFailureNote records a failure reason on the schedule description.
func (s *Store) AppendFailureNote(ctx context.Context, id int64, reason string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	note := fmt.Sprintf("[ERROR: %s]", reason)
	if _, err = db.ExecContext(ctx, appendFailureNoteSQL, note, id); err != nil {
		return fmt.Errorf("appending failure note: %w", err)
	}
	return nil
}

// MarkExpired fails every pending schedule whose window fully elapsed,
// returning how many were affected.
func (s *Store) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	db, err := s.getWriteDB()
	if err != nil {
		return 0, fmt.Errorf("getting write connection: %w", err)
	}

	result, err := db.ExecContext(ctx, markExpiredSQL, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("expiring schedules: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting expired schedules: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		switch {
		case writeErr != nil && readErr != nil:
			s.closeErr = errors.Join(writeErr, readErr)
		case writeErr != nil:
			s.closeErr = writeErr
		case readErr != nil:
			s.closeErr = readErr
		}
	})

	return s.closeErr
}

package schedule

import (
	_ "embed"
)

const (
	insertScheduleSQL = `
INSERT INTO scheduled_captures (name,
                                start_time,
                                end_time,
                                status,
                                description,
                                settings)
VALUES (?, ?, ?, ?, ?, ?)`

	// selectConflictSQL counts live windows overlapping a candidate
	// window. The comparisons are strict where the candidate boundary
	// meets an existing one, so back-to-back windows are allowed.
	selectConflictSQL = `
SELECT COUNT(*)
FROM scheduled_captures
WHERE
    status IN ('pending', 'active')
    AND (
        (start_time >= ?1 AND start_time < ?2)
        OR (end_time > ?1 AND end_time <= ?2)
        OR (start_time <= ?1 AND end_time >= ?2)
    )`

	scheduleColumns = `
    id,
    name,
    start_time,
    end_time,
    status,
    description,
    settings,
    created_at,
    started_at,
    completed_at,
    frames_captured,
    recording_directory`

	selectScheduleSQL = `
SELECT ` + scheduleColumns + `
FROM scheduled_captures
WHERE
    id = ?`

	selectSchedulesSQL = `
SELECT ` + scheduleColumns + `
FROM scheduled_captures
ORDER BY start_time`

	// selectDueSQL finds schedules that should be recording right now:
	// interrupted active ones and pending ones whose window has already
	// opened. Earliest window first.
	selectDueSQL = `
SELECT ` + scheduleColumns + `
FROM scheduled_captures
WHERE
    end_time > ?1
    AND (status = 'active' OR (status = 'pending' AND start_time <= ?1))
ORDER BY start_time`

	// selectStartableSQL finds schedules the poll loop may act on:
	// interrupted active ones and pending ones whose window opens no
	// later than the horizon. Earliest window first.
	selectStartableSQL = `
SELECT ` + scheduleColumns + `
FROM scheduled_captures
WHERE
    end_time > ?1
    AND (status = 'active' OR (status = 'pending' AND start_time <= ?2))
ORDER BY start_time`

	selectActiveSQL = `
SELECT ` + scheduleColumns + `
FROM scheduled_captures
WHERE
    status = 'active'
ORDER BY start_time`

	selectNextPendingSQL = `
SELECT ` + scheduleColumns + `
FROM scheduled_captures
WHERE
    status = 'pending'
    AND start_time > ?
ORDER BY start_time
LIMIT 1`

	updateStatusSQL = `
UPDATE scheduled_captures
SET status = ?
WHERE
    id = ?`

	updateStartedSQL = `
UPDATE scheduled_captures
SET status              = 'active',
    started_at          = ?,
    recording_directory = ?
WHERE
    id = ?`

	updateFinishedSQL = `
UPDATE scheduled_captures
SET status          = ?,
    completed_at    = ?,
    frames_captured = ?
WHERE
    id = ?`

	appendFailureNoteSQL = `
UPDATE scheduled_captures
SET description = CASE
                      WHEN description = '' THEN ?1
                      ELSE description || ' ' || ?1
    END
WHERE
    id = ?2`

	// markExpiredSQL fails pending schedules whose whole window elapsed
	// without the runner ever starting them.
	markExpiredSQL = `
UPDATE scheduled_captures
SET status       = 'failed',
    completed_at = ?1
WHERE
    status = 'pending'
    AND end_time <= ?1`
)

//go:embed schema.sql
var schemaSQL string

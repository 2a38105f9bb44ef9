package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// EventRepository stores attendance events. The one-per-day rule is enforced by
// the attendance_events_one_per_day unique constraint.
type EventRepository struct {
	pool *Pool
}

// NewEventRepository creates a new PostgreSQL event repository.
func NewEventRepository(pool *Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

const eventColumns = `
	id, event_uid, employee_id, work_date, event_type, occurred_at,
	matched, confidence, distance, threshold_used, reason_code, status,
	latitude, longitude, audit_ref, notes, paired_event_id, hours_worked, created_at`

func scanEvent(s rowScanner) (database.AttendanceEvent, error) {
	var (
		ev        database.AttendanceEvent
		workDate  time.Time
		eventType string
		status    string
		lat, lng  sql.NullFloat64
		paired    sql.NullInt64
		hours     sql.NullFloat64
	)
	err := s.Scan(
		&ev.ID, &ev.UID, &ev.EmployeeID, &workDate, &eventType, &ev.Timestamp,
		&ev.Verification.Matched, &ev.Verification.Confidence, &ev.Verification.Distance,
		&ev.Verification.Threshold, &ev.Verification.Reason, &status,
		&lat, &lng, &ev.AuditRef, &ev.Notes, &paired, &hours, &ev.CreatedAt,
	)
	if err != nil {
		return ev, err
	}
	ev.WorkDate = workDate.Format(database.DateLayout)
	ev.Type = database.EventType(eventType)
	ev.Status = database.Status(status)
	if lat.Valid && lng.Valid {
		ev.Location = &database.Location{Lat: lat.Float64, Lng: lng.Float64}
	}
	if paired.Valid {
		id := paired.Int64
		ev.PairedID = &id
	}
	if hours.Valid {
		h := hours.Float64
		ev.HoursWorked = &h
	}
	return ev, nil
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...any) ([]database.AttendanceEvent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.AttendanceEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// EventsForDay returns an employee's events on a work date.
func (r *EventRepository) EventsForDay(ctx context.Context, employeeID, workDate string) ([]database.AttendanceEvent, error) {
	events, err := r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM attendance_events WHERE employee_id = $1 AND work_date = $2 ORDER BY occurred_at`,
		employeeID, workDate)
	if err != nil {
		return nil, fmt.Errorf("events for day: %w", err)
	}
	return events, nil
}

// EventsOnDate returns every event on a work date.
func (r *EventRepository) EventsOnDate(ctx context.Context, workDate string) ([]database.AttendanceEvent, error) {
	events, err := r.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM attendance_events WHERE work_date = $1 ORDER BY occurred_at, id`,
		workDate)
	if err != nil {
		return nil, fmt.Errorf("events on date: %w", err)
	}
	return events, nil
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertEvent(ctx context.Context, q execer, ev *database.AttendanceEvent, paired *int64) error {
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}
	var lat, lng sql.NullFloat64
	if ev.Location != nil {
		lat = sql.NullFloat64{Float64: ev.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: ev.Location.Lng, Valid: true}
	}
	var hours sql.NullFloat64
	if ev.HoursWorked != nil {
		hours = sql.NullFloat64{Float64: *ev.HoursWorked, Valid: true}
	}
	var pairedID sql.NullInt64
	if paired != nil {
		pairedID = sql.NullInt64{Int64: *paired, Valid: true}
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO attendance_events (
			event_uid, employee_id, work_date, event_type, occurred_at,
			matched, confidence, distance, threshold_used, reason_code, status,
			latitude, longitude, audit_ref, notes, paired_event_id, hours_worked
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id, created_at
	`,
		ev.UID, ev.EmployeeID, ev.WorkDate, string(ev.Type), ev.Timestamp,
		ev.Verification.Matched, ev.Verification.Confidence, ev.Verification.Distance,
		ev.Verification.Threshold, ev.Verification.Reason, string(ev.Status),
		lat, lng, ev.AuditRef, ev.Notes, pairedID, hours,
	).Scan(&ev.ID, &ev.CreatedAt)
	if isUniqueViolation(err) {
		return database.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	ev.PairedID = paired
	return nil
}

// InsertCheckIn stores a check-in.
func (r *EventRepository) InsertCheckIn(ctx context.Context, ev *database.AttendanceEvent) error {
	return insertEvent(ctx, r.pool.DB(), ev, nil)
}

// InsertCheckOut stores a check-out and sets the back-reference on the
// check-in row in the same transaction.
func (r *EventRepository) InsertCheckOut(ctx context.Context, ev *database.AttendanceEvent, checkInID int64) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var locked int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM attendance_events WHERE id = $1 AND event_type = 'check_in' FOR UPDATE`, checkInID,
	).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock check-in: %w", err)
	}

	if err := insertEvent(ctx, tx, ev, &checkInID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE attendance_events SET paired_event_id = $1 WHERE id = $2`, ev.ID, checkInID,
	); err != nil {
		return fmt.Errorf("link check-in: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit check-out: %w", err)
	}
	return nil
}

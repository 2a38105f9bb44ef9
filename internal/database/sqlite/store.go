package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Store implements the employee, event and settings stores. Reads go straight
// to the database; every write runs on the Worker.
type Store struct {
	db     *sql.DB
	worker *Worker
}

// NewStore wraps an opened and migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, worker: NewWorker(db)}
}

// Close stops the worker and closes the database.
func (s *Store) Close() error {
	s.worker.Close()
	return s.db.Close()
}

func nowMs() int64 { return time.Now().UTC().UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

const employeeColumns = `id, name, active, COALESCE(face_encoding, ''), enrolled_at_ms, created_at_ms`

func scanEmployee(r rowScanner) (database.Employee, error) {
	var (
		e         database.Employee
		active    int
		enrolled  sql.NullInt64
		createdMs int64
	)
	if err := r.Scan(&e.ID, &e.Name, &active, &e.FaceEncoding, &enrolled, &createdMs); err != nil {
		return e, err
	}
	e.Active = active != 0
	e.CreatedAt = fromMs(createdMs)
	if enrolled.Valid {
		t := fromMs(enrolled.Int64)
		e.EnrolledAt = &t
	}
	return e, nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (*database.Employee, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	return &e, nil
}

// ListEmployees returns all employees ordered by ID.
func (s *Store) ListEmployees(ctx context.Context) ([]database.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+employeeColumns+` FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var out []database.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// SaveEmployee creates or updates an employee's name and active flag.
func (s *Store) SaveEmployee(ctx context.Context, e database.Employee) error {
	active := 0
	if e.Active {
		active = 1
	}
	err := s.worker.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, name, active, created_at_ms) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active
		`, e.ID, e.Name, active, nowMs())
		return err
	})
	if err != nil {
		return fmt.Errorf("save employee: %w", err)
	}
	return nil
}

// SetFaceEncoding replaces the stored encoding. The vector is not stored; the
// enrollment index is rebuilt from the encoded form.
func (s *Store) SetFaceEncoding(ctx context.Context, id string, enc database.FaceEncoding) error {
	var encoded, enrolledAt any
	if enc.Encoded != "" {
		encoded = enc.Encoded
		enrolledAt = nowMs()
	}
	err := s.worker.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE employees SET face_encoding = ?, enrolled_at_ms = ? WHERE id = ?`,
			encoded, enrolledAt, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return database.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("set face encoding: %w", err)
	}
	return nil
}

const eventColumns = `
	id, event_uid, employee_id, work_date, event_type, occurred_at_ms,
	matched, confidence, distance, threshold_used, reason_code, status,
	latitude, longitude, audit_ref, notes, paired_event_id, hours_worked, created_at_ms`

func scanEvent(r rowScanner) (database.AttendanceEvent, error) {
	var (
		ev                    database.AttendanceEvent
		eventType, status     string
		occurredMs, createdMs int64
		matched               int
		lat, lng              sql.NullFloat64
		paired                sql.NullInt64
		hours                 sql.NullFloat64
	)
	err := r.Scan(
		&ev.ID, &ev.UID, &ev.EmployeeID, &ev.WorkDate, &eventType, &occurredMs,
		&matched, &ev.Verification.Confidence, &ev.Verification.Distance,
		&ev.Verification.Threshold, &ev.Verification.Reason, &status,
		&lat, &lng, &ev.AuditRef, &ev.Notes, &paired, &hours, &createdMs,
	)
	if err != nil {
		return ev, err
	}
	ev.Type = database.EventType(eventType)
	ev.Status = database.Status(status)
	ev.Timestamp = fromMs(occurredMs)
	ev.CreatedAt = fromMs(createdMs)
	ev.Verification.Matched = matched != 0
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

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]database.AttendanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *Store) EventsForDay(ctx context.Context, employeeID, workDate string) ([]database.AttendanceEvent, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM attendance_events WHERE employee_id = ? AND work_date = ? ORDER BY occurred_at_ms`,
		employeeID, workDate)
	if err != nil {
		return nil, fmt.Errorf("events for day: %w", err)
	}
	return events, nil
}

// EventsOnDate returns every event on a work date.
func (s *Store) EventsOnDate(ctx context.Context, workDate string) ([]database.AttendanceEvent, error) {
	events, err := s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM attendance_events WHERE work_date = ? ORDER BY occurred_at_ms, id`,
		workDate)
	if err != nil {
		return nil, fmt.Errorf("events on date: %w", err)
	}
	return events, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev *database.AttendanceEvent, paired *int64) error {
	uid := ev.UID
	if uid == "" {
		uid = uuid.NewString()
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
	matched := 0
	if ev.Verification.Matched {
		matched = 1
	}
	created := nowMs()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO attendance_events (
			event_uid, employee_id, work_date, event_type, occurred_at_ms,
			matched, confidence, distance, threshold_used, reason_code, status,
			latitude, longitude, audit_ref, notes, paired_event_id, hours_worked, created_at_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uid, ev.EmployeeID, ev.WorkDate, string(ev.Type), ev.Timestamp.UTC().UnixMilli(),
		matched, ev.Verification.Confidence, ev.Verification.Distance,
		ev.Verification.Threshold, ev.Verification.Reason, string(ev.Status),
		lat, lng, ev.AuditRef, ev.Notes, pairedID, hours, created,
	)
	if isUniqueViolation(err) {
		return database.ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s event: %w", ev.Type, err)
	}
	ev.ID = id
	ev.UID = uid
	ev.CreatedAt = fromMs(created)
	ev.PairedID = paired
	return nil
}

// InsertCheckIn stores a check-in.
func (s *Store) InsertCheckIn(ctx context.Context, ev *database.AttendanceEvent) error {
	return s.worker.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return insertEvent(ctx, tx, ev, nil)
	})
}

// InsertCheckOut stores a check-out and sets the back-reference on the
// check-in row in the same transaction.
func (s *Store) InsertCheckOut(ctx context.Context, ev *database.AttendanceEvent, checkInID int64) error {
	err := s.worker.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var found int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM attendance_events WHERE id = ? AND event_type = 'check_in'`, checkInID,
		).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find check-in: %w", err)
		}

		if err := insertEvent(ctx, tx, ev, &checkInID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE attendance_events SET paired_event_id = ? WHERE id = ?`, ev.ID, checkInID,
		); err != nil {
			return fmt.Errorf("link check-in: %w", err)
		}
		return nil
	})
	if err != nil {
		// A rolled back insert must not leak an ID.
		ev.ID = 0
		ev.PairedID = nil
	}
	return err
}

// LoadSettings returns stored settings merged over base.
func (s *Store) LoadSettings(ctx context.Context, base config.VerificationSettings) (config.VerificationSettings, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM attendance_settings WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("load settings: %w", err)
	}
	return database.UnmarshalSettings([]byte(data), base)
}

// SaveSettings stores s.
func (s *Store) SaveSettings(ctx context.Context, settings config.VerificationSettings) error {
	data, err := database.MarshalSettings(settings)
	if err != nil {
		return err
	}
	err = s.worker.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_settings (id, data, updated_at_ms) VALUES (1, ?, ?)
			ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at_ms = excluded.updated_at_ms
		`, string(data), nowMs())
		return err
	})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Submission is one check-in or check-out attempt.
type Submission struct {
	EmployeeID string
	Image      []byte
	Location   *database.Location
	Notes      string
}

// Receipt is returned for a recorded event.
type Receipt struct {
	Event        *database.AttendanceEvent `json:"event"`
	Verification biometric.Result          `json:"verification"`
}

// State of an employee's work day.
type State string

const (
	StateNone       State = "none"
	StateCheckedIn  State = "checked_in"
	StateCheckedOut State = "checked_out"
)

func stateOf(d database.Day) State {
	switch {
	case d.CheckOut != nil:
		return StateCheckedOut
	case d.CheckIn != nil:
		return StateCheckedIn
	}
	return StateNone
}

// SubmitCheckIn verifies the capture and records today's check-in. State,
// enrollment, image and location are checked before the pipeline runs.
func (m *Manager) SubmitCheckIn(ctx context.Context, sub Submission) (*Receipt, error) {
	id := NormalizeEmployeeID(sub.EmployeeID)
	unlock := m.locks.Lock(id)
	defer unlock()

	settings, err := m.Settings(ctx)
	if err != nil {
		return nil, err
	}
	emp, err := m.employee(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	workDate := now.Format(database.DateLayout)
	day, err := m.day(ctx, id, workDate)
	if err != nil {
		return nil, err
	}
	if day.CheckIn != nil {
		return nil, stateError(CodeDuplicateCheckIn)
	}

	outcome, err := m.verify(ctx, emp, sub, settings)
	if err != nil {
		return nil, err
	}

	shift := m.shift(ctx, id, now, settings)
	ev := &database.AttendanceEvent{
		UID:          uuid.NewString(),
		EmployeeID:   id,
		WorkDate:     workDate,
		Type:         database.CheckIn,
		Timestamp:    now,
		Verification: verificationRecord(outcome.Result),
		Status:       Punctuality(now, shift.Start, settings.GraceMinutes),
		Location:     sub.Location,
		Notes:        sub.Notes,
	}
	if err := m.record(ev, outcome, settings, func() error {
		return m.events.InsertCheckIn(ctx, ev)
	}); err != nil {
		if errors.Is(err, database.ErrDuplicateEvent) {
			return nil, stateError(CodeDuplicateCheckIn)
		}
		return nil, err
	}

	log.Printf("Check-in recorded: employee %s, %s, status %s, confidence %.2f%%",
		id, now.Format(time.RFC3339), ev.Status, outcome.Confidence)
	return &Receipt{Event: ev, Verification: outcome.Result}, nil
}

// SubmitCheckOut verifies the capture, records today's check-out and links it
// to the check-in.
func (m *Manager) SubmitCheckOut(ctx context.Context, sub Submission) (*Receipt, error) {
	id := NormalizeEmployeeID(sub.EmployeeID)
	unlock := m.locks.Lock(id)
	defer unlock()

	settings, err := m.Settings(ctx)
	if err != nil {
		return nil, err
	}
	emp, err := m.employee(ctx, id)
	if err != nil {
		return nil, err
	}

	now := m.now()
	workDate := now.Format(database.DateLayout)
	day, err := m.day(ctx, id, workDate)
	if err != nil {
		return nil, err
	}
	switch stateOf(day) {
	case StateNone:
		return nil, stateError(CodeNoCheckInFound)
	case StateCheckedOut:
		return nil, stateError(CodeDuplicateCheckOut)
	}

	outcome, err := m.verify(ctx, emp, sub, settings)
	if err != nil {
		return nil, err
	}

	shift := m.shift(ctx, id, now, settings)
	hours := HoursWorked(day.CheckIn.Timestamp, now)
	ev := &database.AttendanceEvent{
		UID:          uuid.NewString(),
		EmployeeID:   id,
		WorkDate:     workDate,
		Type:         database.CheckOut,
		Timestamp:    now,
		Verification: verificationRecord(outcome.Result),
		Status:       Departure(now, shift.End, settings.EarlyDepartureMinutes),
		Location:     sub.Location,
		Notes:        sub.Notes,
		HoursWorked:  &hours,
	}
	if err := m.record(ev, outcome, settings, func() error {
		return m.events.InsertCheckOut(ctx, ev, day.CheckIn.ID)
	}); err != nil {
		switch {
		case errors.Is(err, database.ErrDuplicateEvent):
			return nil, stateError(CodeDuplicateCheckOut)
		case errors.Is(err, database.ErrNotFound):
			return nil, stateError(CodeNoCheckInFound)
		}
		return nil, err
	}

	log.Printf("Check-out recorded: employee %s, %s, status %s, hours %.2f",
		id, now.Format(time.RFC3339), ev.Status, hours)
	return &Receipt{Event: ev, Verification: outcome.Result}, nil
}

func (m *Manager) day(ctx context.Context, employeeID, workDate string) (database.Day, error) {
	events, err := m.events.EventsForDay(ctx, employeeID, workDate)
	if err != nil {
		return database.Day{}, fmt.Errorf("load attendance day: %w", err)
	}
	return database.NewDay(events), nil
}

// verify checks enrollment, image and location, then runs the pipeline.
// Only a matched outcome returns without error.
func (m *Manager) verify(ctx context.Context, emp *database.Employee, sub Submission, s config.VerificationSettings) (biometric.Outcome, error) {
	if !emp.Enrolled() {
		return biometric.Outcome{}, stateError(CodeEnrollmentRequired)
	}
	if len(sub.Image) == 0 {
		return biometric.Outcome{}, inputError(CodeMissingImage)
	}
	if err := checkLocation(s.Location, m.opts.Office, sub.Location); err != nil {
		return biometric.Outcome{}, err
	}

	outcome := m.verifier.Verify(ctx, emp.FaceEncoding, sub.Image, biometric.MatchSettingsFrom(s))
	if !outcome.Matched {
		log.Printf("WARNING: verification failed for %s: %s", emp.ID, outcome.Reason)
		return outcome, verificationError(outcome.Result)
	}
	return outcome, nil
}

// record stores the audit capture, runs insert and publishes the event. The
// capture is removed again when insert fails.
func (m *Manager) record(ev *database.AttendanceEvent, outcome biometric.Outcome, s config.VerificationSettings, insert func() error) error {
	ref, err := m.opts.Audit.Save(ev.WorkDate, ev.UID, outcome.Image)
	if err != nil {
		if s.PhotoRequired {
			return fmt.Errorf("store audit capture: %w", err)
		}
		log.Printf("WARNING: audit capture not stored for %s: %v", ev.EmployeeID, err)
		ref = ev.UID
	}
	ev.AuditRef = ref

	if err := insert(); err != nil {
		m.opts.Audit.Remove(ref)
		return err
	}

	m.opts.Events.SendEvent(Event{Type: string(ev.Type), Event: ev})
	return nil
}

func verificationRecord(r biometric.Result) database.Verification {
	return database.Verification{
		Matched:    r.Matched,
		Confidence: r.Confidence,
		Distance:   r.Distance,
		Threshold:  r.Threshold,
		Reason:     string(r.Reason),
	}
}

// Punctuality is present when at is no later than the shift start plus the
// grace window, late otherwise.
func Punctuality(at time.Time, start config.Clock, graceMinutes int) database.Status {
	deadline := start.On(at).Add(time.Duration(graceMinutes) * time.Minute)
	if at.After(deadline) {
		return database.StatusLate
	}
	return database.StatusPresent
}

// Departure is early_departure when at is before the shift end minus the
// early window, completed otherwise.
func Departure(at time.Time, end config.Clock, earlyMinutes int) database.Status {
	cutoff := end.On(at).Add(-time.Duration(earlyMinutes) * time.Minute)
	if at.Before(cutoff) {
		return database.StatusEarlyDeparture
	}
	return database.StatusCompleted
}

// HoursWorked is the time between in and out in hours, rounded to two
// decimals and never negative.
func HoursWorked(in, out time.Time) float64 {
	h := out.Sub(in).Hours()
	if h <= 0 {
		return 0
	}
	p := math.Pow10(constants.HoursPrecision)
	return math.Round(h*p) / p
}

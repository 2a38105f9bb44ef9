package database

import (
	"context"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// EmployeeReader provides read-only access to employees.
type EmployeeReader interface {
	// GetEmployee returns ErrNotFound for unknown IDs.
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// EmployeeStore adds the writes the attendance core performs.
type EmployeeStore interface {
	EmployeeReader

	// SaveEmployee creates or updates name and active flag. The stored face
	// encoding is left alone.
	SaveEmployee(ctx context.Context, e Employee) error
	// SetFaceEncoding replaces the stored encoding in a single write. A zero
	// FaceEncoding clears it. Returns ErrNotFound for unknown IDs.
	SetFaceEncoding(ctx context.Context, id string, enc FaceEncoding) error
}

// EventStore persists attendance events.
type EventStore interface {
	// EventsForDay returns an employee's events on a work date.
	EventsForDay(ctx context.Context, employeeID, workDate string) ([]AttendanceEvent, error)
	// EventsOnDate returns every event on a work date ordered by time.
	EventsOnDate(ctx context.Context, workDate string) ([]AttendanceEvent, error)
	// InsertCheckIn stores a check-in and sets ev.ID. Returns ErrDuplicateEvent
	// when one already exists for the day.
	InsertCheckIn(ctx context.Context, ev *AttendanceEvent) error
	// InsertCheckOut stores a check-out and links it with the check-in in one
	// transaction. Returns ErrDuplicateEvent when a check-out already exists.
	InsertCheckOut(ctx context.Context, ev *AttendanceEvent, checkInID int64) error
}

// SettingsStore persists verification settings overrides.
type SettingsStore interface {
	// LoadSettings returns the stored settings, or base when none are stored.
	LoadSettings(ctx context.Context, base config.VerificationSettings) (config.VerificationSettings, error)
	SaveSettings(ctx context.Context, s config.VerificationSettings) error
}

// DuplicateFinder searches enrolled faces of other employees.
type DuplicateFinder interface {
	// FindDuplicate returns the closest other active employee within
	// maxDistance, or nil.
	FindDuplicate(ctx context.Context, employeeID string, vector []float64, maxDistance float64) (*Duplicate, error)
}

// ShiftWindow is an employee's scheduled working time on one day.
type ShiftWindow struct {
	Start config.Clock
	End   config.Clock
}

// ShiftReader looks up scheduled shifts in an external system.
type ShiftReader interface {
	// ShiftFor returns false when no shift is scheduled.
	ShiftFor(ctx context.Context, employeeID string, day time.Time) (ShiftWindow, bool, error)
}

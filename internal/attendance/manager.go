// Package attendance records check-ins and check-outs gated on face
// verification and derives punctuality and hours worked.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Verifier is the face pipeline the manager runs. *biometric.Pipeline
// implements it.
type Verifier interface {
	Capture(ctx context.Context, raw []byte, strict bool) (*biometric.Capture, error)
	Verify(ctx context.Context, stored string, raw []byte, s biometric.MatchSettings) biometric.Outcome
}

// Options configures optional collaborators of the Manager.
type Options struct {
	// Base settings; values stored in the settings store override them.
	Base     config.VerificationSettings
	Location *time.Location
	Office   config.OfficeConfig

	Shifts     database.ShiftReader     // nil: default business hours
	Duplicates database.DuplicateFinder // nil: Index, if set
	Index      *database.EnrollmentIndex
	Audit      *AuditStore
	Events     *Broadcaster

	Now func() time.Time
}

// Manager runs the per-employee, per-day state machine
// NONE -> CHECKED_IN -> CHECKED_OUT.
type Manager struct {
	employees database.EmployeeStore
	events    database.EventStore
	settings  database.SettingsStore
	verifier  Verifier
	opts      Options
	locks     *keyedMutex
}

// NewManager creates a manager on a storage backend.
func NewManager(backend *database.Backend, verifier Verifier, opts Options) *Manager {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Audit == nil {
		opts.Audit = NewAuditStore("")
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}
	if opts.Duplicates == nil {
		if backend.Duplicates != nil {
			opts.Duplicates = backend.Duplicates
		} else if opts.Index != nil {
			opts.Duplicates = opts.Index
		}
	}
	if opts.Base == (config.VerificationSettings{}) {
		opts.Base = config.DefaultVerificationSettings()
	}
	return &Manager{
		employees: backend.Employees,
		events:    backend.Events,
		settings:  backend.Settings,
		verifier:  verifier,
		opts:      opts,
		locks:     newKeyedMutex(),
	}
}

// Events returns the broadcaster of recorded events.
func (m *Manager) Events() *Broadcaster {
	return m.opts.Events
}

// Audit returns the audit image store.
func (m *Manager) Audit() *AuditStore {
	return m.opts.Audit
}

// Settings returns the effective verification settings.
func (m *Manager) Settings(ctx context.Context) (config.VerificationSettings, error) {
	s := m.opts.Base
	if m.settings != nil {
		var err error
		if s, err = m.settings.LoadSettings(ctx, m.opts.Base); err != nil {
			return s, fmt.Errorf("load settings: %w", err)
		}
	}
	if err := s.Validate(); err != nil {
		return s, &Error{Kind: KindConfig, Code: CodeInvalidSettings, Err: err}
	}
	return s, nil
}

// UpdateSettings validates and stores new settings.
func (m *Manager) UpdateSettings(ctx context.Context, s config.VerificationSettings) error {
	if err := s.Validate(); err != nil {
		return &Error{Kind: KindConfig, Code: CodeInvalidSettings, Err: err}
	}
	if m.settings == nil {
		return errors.New("settings store not configured")
	}
	return m.settings.SaveSettings(ctx, s)
}

func (m *Manager) now() time.Time {
	return m.opts.Now().In(m.opts.Location)
}

// employee loads an active employee by normalized ID.
func (m *Manager) employee(ctx context.Context, id string) (*database.Employee, error) {
	if id == "" {
		return nil, inputError(CodeEmployeeNotFound)
	}
	e, err := m.employees.GetEmployee(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, inputError(CodeEmployeeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	if !e.Active {
		return nil, inputError(CodeEmployeeInactive)
	}
	return e, nil
}

// shift returns the employee's working window on day, falling back to the
// default business hours when no schedule is available.
func (m *Manager) shift(ctx context.Context, employeeID string, day time.Time, s config.VerificationSettings) database.ShiftWindow {
	if m.opts.Shifts != nil {
		w, ok, err := m.opts.Shifts.ShiftFor(ctx, employeeID, day)
		if err != nil {
			log.Printf("WARNING: shift lookup for %s failed, using default hours: %v", employeeID, err)
		} else if ok {
			return w
		}
	}
	// Validated settings always parse.
	start, _ := config.ParseClock(s.DefaultShiftStart)
	end, _ := config.ParseClock(s.DefaultShiftEnd)
	return database.ShiftWindow{Start: start, End: end}
}

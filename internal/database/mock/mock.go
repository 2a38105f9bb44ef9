// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockEmployeeStore is a mock implementation of database.EmployeeStore.
type MockEmployeeStore struct {
	mu        sync.RWMutex
	employees map[string]*database.Employee

	// SetFaceCalls counts SetFaceEncoding invocations.
	SetFaceCalls int

	// Error injection
	GetError     error
	ListError    error
	SaveError    error
	SetFaceError error
}

// NewMockEmployeeStore creates an empty store.
func NewMockEmployeeStore() *MockEmployeeStore {
	return &MockEmployeeStore{employees: make(map[string]*database.Employee)}
}

// AddEmployee adds or replaces an employee, including its encoding.
func (m *MockEmployeeStore) AddEmployee(e database.Employee) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = &e
}

// GetEmployee retrieves an employee by ID.
func (m *MockEmployeeStore) GetEmployee(_ context.Context, id string) (*database.Employee, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	c := *e
	return &c, nil
}

// ListEmployees returns all employees ordered by ID.
func (m *MockEmployeeStore) ListEmployees(_ context.Context) ([]database.Employee, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.Employee, 0, len(m.employees))
	for _, e := range m.employees {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveEmployee creates or updates an employee without touching its encoding.
func (m *MockEmployeeStore) SaveEmployee(_ context.Context, e database.Employee) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.employees[e.ID]; ok {
		existing.Name = e.Name
		existing.Active = e.Active
		return nil
	}
	e.FaceEncoding = ""
	e.EnrolledAt = nil
	e.CreatedAt = time.Now()
	m.employees[e.ID] = &e
	return nil
}

// SetFaceEncoding replaces the stored encoding.
func (m *MockEmployeeStore) SetFaceEncoding(_ context.Context, id string, enc database.FaceEncoding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetFaceCalls++
	if m.SetFaceError != nil {
		return m.SetFaceError
	}
	e, ok := m.employees[id]
	if !ok {
		return database.ErrNotFound
	}
	e.FaceEncoding = enc.Encoded
	if enc.Encoded == "" {
		e.EnrolledAt = nil
	} else {
		now := time.Now()
		e.EnrolledAt = &now
	}
	return nil
}

// MockEventStore is a mock implementation of database.EventStore that
// enforces the one-event-per-type-per-day constraint.
type MockEventStore struct {
	mu     sync.RWMutex
	events []database.AttendanceEvent
	nextID int64

	// Error injection
	ForDayError   error
	OnDateError   error
	InsertError   error
	CheckOutError error
}

// NewMockEventStore creates an empty store.
func NewMockEventStore() *MockEventStore {
	return &MockEventStore{nextID: 1}
}

// Count returns the number of stored events.
func (m *MockEventStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// All returns a copy of every stored event.
func (m *MockEventStore) All() []database.AttendanceEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// EventsForDay returns an employee's events on a date.
func (m *MockEventStore) EventsForDay(_ context.Context, employeeID, workDate string) ([]database.AttendanceEvent, error) {
	if m.ForDayError != nil {
		return nil, m.ForDayError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceEvent
	for _, ev := range m.events {
		if ev.EmployeeID == employeeID && ev.WorkDate == workDate {
			out = append(out, ev)
		}
	}
	return out, nil
}

// EventsOnDate returns all events on a date ordered by time.
func (m *MockEventStore) EventsOnDate(_ context.Context, workDate string) ([]database.AttendanceEvent, error) {
	if m.OnDateError != nil {
		return nil, m.OnDateError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.AttendanceEvent
	for _, ev := range m.events {
		if ev.WorkDate == workDate {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MockEventStore) existsLocked(ev *database.AttendanceEvent) bool {
	for _, e := range m.events {
		if e.EmployeeID == ev.EmployeeID && e.WorkDate == ev.WorkDate && e.Type == ev.Type {
			return true
		}
	}
	return false
}

// InsertCheckIn stores a check-in.
func (m *MockEventStore) InsertCheckIn(_ context.Context, ev *database.AttendanceEvent) error {
	if m.InsertError != nil {
		return m.InsertError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsLocked(ev) {
		return database.ErrDuplicateEvent
	}
	ev.ID = m.nextID
	m.nextID++
	ev.CreatedAt = time.Now()
	m.events = append(m.events, *ev)
	return nil
}

// InsertCheckOut stores a check-out and links the check-in.
func (m *MockEventStore) InsertCheckOut(_ context.Context, ev *database.AttendanceEvent, checkInID int64) error {
	if m.CheckOutError != nil {
		return m.CheckOutError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsLocked(ev) {
		return database.ErrDuplicateEvent
	}
	idx := slices.IndexFunc(m.events, func(e database.AttendanceEvent) bool { return e.ID == checkInID })
	if idx < 0 {
		return database.ErrNotFound
	}
	ev.ID = m.nextID
	m.nextID++
	ev.CreatedAt = time.Now()
	ev.PairedID = &checkInID
	m.events = append(m.events, *ev)
	outID := ev.ID
	m.events[idx].PairedID = &outID
	return nil
}

// MockSettingsStore is a mock implementation of database.SettingsStore.
type MockSettingsStore struct {
	mu       sync.RWMutex
	settings *config.VerificationSettings

	LoadError error
	SaveError error
}

// NewMockSettingsStore creates a store with nothing saved.
func NewMockSettingsStore() *MockSettingsStore {
	return &MockSettingsStore{}
}

// LoadSettings returns saved settings or base.
func (m *MockSettingsStore) LoadSettings(_ context.Context, base config.VerificationSettings) (config.VerificationSettings, error) {
	if m.LoadError != nil {
		return base, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return base, nil
	}
	return *m.settings, nil
}

// SaveSettings stores s.
func (m *MockSettingsStore) SaveSettings(_ context.Context, s config.VerificationSettings) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = &s
	return nil
}

// MockShiftReader is a mock implementation of database.ShiftReader.
type MockShiftReader struct {
	mu     sync.RWMutex
	shifts map[string]database.ShiftWindow

	Error error
}

// NewMockShiftReader creates a reader with no shifts.
func NewMockShiftReader() *MockShiftReader {
	return &MockShiftReader{shifts: make(map[string]database.ShiftWindow)}
}

// SetShift schedules a shift for an employee on a date.
func (m *MockShiftReader) SetShift(employeeID, workDate string, w database.ShiftWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shifts[employeeID+"|"+workDate] = w
}

// ShiftFor returns the scheduled shift, if any.
func (m *MockShiftReader) ShiftFor(_ context.Context, employeeID string, day time.Time) (database.ShiftWindow, bool, error) {
	if m.Error != nil {
		return database.ShiftWindow{}, false, m.Error
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.shifts[employeeID+"|"+day.Format(database.DateLayout)]
	return w, ok, nil
}

// MockDuplicateFinder is a mock implementation of database.DuplicateFinder.
type MockDuplicateFinder struct {
	Duplicate *database.Duplicate
	Error     error
	Calls     int
}

// FindDuplicate returns the configured duplicate when it is not employeeID.
func (m *MockDuplicateFinder) FindDuplicate(_ context.Context, employeeID string, _ []float64, maxDistance float64) (*database.Duplicate, error) {
	m.Calls++
	if m.Error != nil {
		return nil, m.Error
	}
	if m.Duplicate == nil || m.Duplicate.EmployeeID == employeeID || m.Duplicate.Distance > maxDistance {
		return nil, nil
	}
	d := *m.Duplicate
	return &d, nil
}

// Backend returns a database.Backend wired to fresh mock stores.
func Backend() (*database.Backend, *MockEmployeeStore, *MockEventStore) {
	employees := NewMockEmployeeStore()
	events := NewMockEventStore()
	return &database.Backend{
		Employees: employees,
		Events:    events,
		Settings:  NewMockSettingsStore(),
		Close:     func() error { return nil },
	}, employees, events
}

package attendance

import (
	"context"
	"fmt"
	"sort"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// DayStatus is an employee's attendance on one work date.
type DayStatus struct {
	EmployeeID  string                    `json:"employee_id"`
	WorkDate    string                    `json:"work_date"`
	State       State                     `json:"state"`
	CheckIn     *database.AttendanceEvent `json:"check_in,omitempty"`
	CheckOut    *database.AttendanceEvent `json:"check_out,omitempty"`
	HoursWorked *float64                  `json:"hours_worked,omitempty"`
}

func newDayStatus(employeeID, workDate string, d database.Day) DayStatus {
	st := DayStatus{
		EmployeeID: employeeID,
		WorkDate:   workDate,
		State:      stateOf(d),
		CheckIn:    d.CheckIn,
		CheckOut:   d.CheckOut,
	}
	if d.CheckOut != nil {
		st.HoursWorked = d.CheckOut.HoursWorked
	}
	return st
}

// Today returns the employee's status for the current work date.
func (m *Manager) Today(ctx context.Context, employeeID string) (*DayStatus, error) {
	id := NormalizeEmployeeID(employeeID)
	if _, err := m.employee(ctx, id); err != nil {
		return nil, err
	}
	workDate := m.now().Format(database.DateLayout)
	d, err := m.day(ctx, id, workDate)
	if err != nil {
		return nil, err
	}
	st := newDayStatus(id, workDate, d)
	return &st, nil
}

// Roster returns the status of every employee with events on workDate, or
// today when workDate is empty, ordered by employee ID.
func (m *Manager) Roster(ctx context.Context, workDate string) ([]DayStatus, error) {
	if workDate == "" {
		workDate = m.now().Format(database.DateLayout)
	}
	events, err := m.events.EventsOnDate(ctx, workDate)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}

	byEmployee := make(map[string][]database.AttendanceEvent)
	for _, ev := range events {
		byEmployee[ev.EmployeeID] = append(byEmployee[ev.EmployeeID], ev)
	}
	out := make([]DayStatus, 0, len(byEmployee))
	for id, evs := range byEmployee {
		out = append(out, newDayStatus(id, workDate, database.NewDay(evs)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

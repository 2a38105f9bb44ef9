package database

import (
	"time"
)

// DateLayout is the calendar date format used for work dates.
const DateLayout = "2006-01-02"

// Employee is the identity record the attendance core reads.
type Employee struct {
	ID           string
	Name         string
	Active       bool
	FaceEncoding string // persisted encoding, empty when not enrolled
	EnrolledAt   *time.Time
	CreatedAt    time.Time
}

// Enrolled reports whether a face encoding is stored.
func (e *Employee) Enrolled() bool {
	return e.FaceEncoding != ""
}

// FaceEncoding is written on enrollment. Encoded is the opaque persisted form;
// Vector is the same encoding for backends that index it. A zero value clears
// the enrollment.
type FaceEncoding struct {
	Encoded string
	Vector  []float64
}

// EventType is check_in or check_out.
type EventType string

const (
	CheckIn  EventType = "check_in"
	CheckOut EventType = "check_out"
)

// Status is the derived attendance fact stored with an event.
type Status string

const (
	StatusPresent        Status = "present"
	StatusLate           Status = "late"
	StatusCompleted      Status = "completed"
	StatusEarlyDeparture Status = "early_departure"
)

// Verification is the face match result recorded with an event.
type Verification struct {
	Matched    bool    `json:"matched"`
	Confidence float64 `json:"confidence_percent"`
	Distance   float64 `json:"distance"`
	Threshold  float64 `json:"threshold_used"`
	Reason     string  `json:"reason_code"`
}

// Location is an optional capture geolocation.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AttendanceEvent is one check-in or check-out.
type AttendanceEvent struct {
	ID           int64        `json:"id"`
	UID          string       `json:"uid"`
	EmployeeID   string       `json:"employee_id"`
	WorkDate     string       `json:"work_date"` // DateLayout
	Type         EventType    `json:"event_type"`
	Timestamp    time.Time    `json:"timestamp"`
	Verification Verification `json:"verification"`
	Status       Status       `json:"status"`
	Location     *Location    `json:"location,omitempty"`
	AuditRef     string       `json:"audit_ref,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	PairedID     *int64       `json:"paired_event_id,omitempty"`
	HoursWorked  *float64     `json:"hours_worked,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Day is an employee's events for one work date.
type Day struct {
	CheckIn  *AttendanceEvent
	CheckOut *AttendanceEvent
}

// NewDay groups events of a single employee and date.
func NewDay(events []AttendanceEvent) Day {
	var d Day
	for i := range events {
		switch events[i].Type {
		case CheckIn:
			d.CheckIn = &events[i]
		case CheckOut:
			d.CheckOut = &events[i]
		}
	}
	return d
}

// Duplicate is another employee whose enrolled face is close to a new one.
type Duplicate struct {
	EmployeeID string
	Distance   float64
}

package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// Enrollment describes a stored face encoding.
type Enrollment struct {
	EmployeeID string    `json:"employee_id"`
	Dimension  int       `json:"dimension"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// EnrollFace encodes the employee's primary face and replaces the stored
// encoding. The new encoding is computed in full before the single write, and
// any failure leaves the previous enrollment untouched.
func (m *Manager) EnrollFace(ctx context.Context, employeeID string, image []byte) (*Enrollment, error) {
	id := NormalizeEmployeeID(employeeID)
	unlock := m.locks.Lock(id)
	defer unlock()

	settings, err := m.Settings(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := m.employee(ctx, id); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, inputError(CodeMissingImage)
	}

	capture, err := m.verifier.Capture(ctx, image, true)
	if err != nil {
		log.Printf("WARNING: enrollment capture for %s failed: %v", id, err)
		return nil, enrollmentError(biometric.ReasonOf(err), err)
	}
	encoded, err := biometric.EncodeString(capture.Encoding)
	if err != nil {
		return nil, enrollmentError(biometric.ReasonOf(err), err)
	}

	if m.opts.Duplicates != nil {
		dup, err := m.opts.Duplicates.FindDuplicate(ctx, id, capture.Encoding, settings.Threshold)
		if err != nil {
			return nil, fmt.Errorf("duplicate face check: %w", err)
		}
		if dup != nil {
			log.Printf("WARNING: enrollment for %s rejected, face matches %s (distance %.4f)",
				id, dup.EmployeeID, dup.Distance)
			return nil, &Error{
				Kind:    KindEnrollment,
				Code:    CodeEnrollmentFailed,
				Reason:  ReasonAlreadyEnrolled,
				Message: "face already enrolled for employee " + dup.EmployeeID,
			}
		}
	}

	err = m.employees.SetFaceEncoding(ctx, id, database.FaceEncoding{
		Encoded: encoded,
		Vector:  capture.Encoding,
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, inputError(CodeEmployeeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store face encoding: %w", err)
	}
	if m.opts.Index != nil {
		m.opts.Index.Upsert(id, capture.Encoding, true)
	}

	log.Printf("Face enrolled for employee %s", id)
	return &Enrollment{EmployeeID: id, Dimension: len(capture.Encoding), EnrolledAt: m.now()}, nil
}

// RemoveEnrollment clears the stored encoding. Removing a missing enrollment
// succeeds.
func (m *Manager) RemoveEnrollment(ctx context.Context, employeeID string) error {
	id := NormalizeEmployeeID(employeeID)
	unlock := m.locks.Lock(id)
	defer unlock()

	if id == "" {
		return inputError(CodeEmployeeNotFound)
	}
	e, err := m.employees.GetEmployee(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return inputError(CodeEmployeeNotFound)
	}
	if err != nil {
		return fmt.Errorf("get employee: %w", err)
	}
	if m.opts.Index != nil {
		m.opts.Index.Remove(id)
	}
	if !e.Enrolled() {
		return nil
	}
	if err := m.employees.SetFaceEncoding(ctx, id, database.FaceEncoding{}); err != nil {
		return fmt.Errorf("clear face encoding: %w", err)
	}
	log.Printf("Face enrollment removed for employee %s", id)
	return nil
}

// RebuildIndex loads every stored encoding into the enrollment index.
// Unreadable encodings are skipped with a warning.
func (m *Manager) RebuildIndex(ctx context.Context) (int, error) {
	if m.opts.Index == nil {
		return 0, nil
	}
	employees, err := m.employees.ListEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("list employees: %w", err)
	}

	entries := make(map[string][]float64)
	inactive := make(map[string]bool)
	for _, e := range employees {
		if !e.Enrolled() {
			continue
		}
		enc, err := biometric.DecodeString(e.FaceEncoding)
		if err != nil {
			log.Printf("WARNING: skipping stored encoding of %s: %v", e.ID, err)
			continue
		}
		entries[e.ID] = enc
		if !e.Active {
			inactive[e.ID] = true
		}
	}
	m.opts.Index.Rebuild(entries, inactive)
	return len(entries), nil
}

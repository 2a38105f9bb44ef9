package attendance

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func TestEnrollFace(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	en, err := h.m.EnrollFace(ctx, "E1", photo(t, aliceColor))
	if err != nil {
		t.Fatalf("EnrollFace: %v", err)
	}
	if en.EmployeeID != "E1" || en.Dimension != biometric.Dim {
		t.Errorf("unexpected enrollment %+v", en)
	}
	if h.index.Len() != 1 {
		t.Errorf("expected index entry, got %d", h.index.Len())
	}
	e1, _ := h.employees.GetEmployee(ctx, "E1")
	stored, _ := biometric.DecodeString(e1.FaceEncoding)
	if !slices.Equal(stored, aliceEnc) {
		t.Error("stored encoding differs from the capture")
	}
}

func TestEnrollFace_FailureKeepsPreviousEncoding(t *testing.T) {
	tests := []struct {
		name   string
		image  func(t *testing.T) []byte
		code   Code
		reason biometric.Reason
	}{
		{"no face", func(t *testing.T) []byte { return photo(t, emptyRoomColor) }, CodeEnrollmentFailed, biometric.ReasonNoFace},
		{"ambiguous faces", func(t *testing.T) []byte { return photo(t, crowdColor) }, CodeEnrollmentFailed, biometric.ReasonAmbiguousFaces},
		{"undecodable", func(*testing.T) []byte { return []byte("garbage") }, CodeEnrollmentFailed, biometric.ReasonImageDecode},
		{"missing image", func(*testing.T) []byte { return nil }, CodeMissingImage, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			h.enroll(t, "E1", aliceColor)
			before, _ := h.employees.GetEmployee(ctx, "E1")
			writes := h.employees.SetFaceCalls

			_, err := h.m.EnrollFace(ctx, "E1", tt.image(t))
			e := wantCode(t, err, tt.code)
			if e.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, e.Reason)
			}
			if tt.code == CodeEnrollmentFailed && !errors.Is(err, ErrEnrollmentFailed) {
				t.Error("expected errors.Is ErrEnrollmentFailed")
			}

			after, _ := h.employees.GetEmployee(ctx, "E1")
			if after.FaceEncoding != before.FaceEncoding {
				t.Error("failed enrollment changed the stored encoding")
			}
			if h.employees.SetFaceCalls != writes {
				t.Error("failed enrollment wrote to the store")
			}
		})
	}
}

func TestEnrollFace_DuplicateFaceRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enroll(t, "E1", aliceColor)

	// carol's capture is within the threshold of E1's face.
	_, err := h.m.EnrollFace(ctx, "E3", photo(t, carolColor))
	e := wantCode(t, err, CodeEnrollmentFailed)
	if e.Reason != ReasonAlreadyEnrolled {
		t.Errorf("expected %s, got %s", ReasonAlreadyEnrolled, e.Reason)
	}
	e3, _ := h.employees.GetEmployee(ctx, "E3")
	if e3.Enrolled() {
		t.Error("duplicate face was enrolled")
	}

	// Re-enrolling the same employee is not a duplicate of itself.
	if _, err := h.m.EnrollFace(ctx, "E1", photo(t, carolColor)); err != nil {
		t.Errorf("re-enrollment: %v", err)
	}

	// A different face is accepted.
	if _, err := h.m.EnrollFace(ctx, "E2", photo(t, bobColor)); err != nil {
		t.Errorf("distinct face: %v", err)
	}
}

func TestEnrollFace_BackendDuplicateFinder(t *testing.T) {
	finder := &mockFinder{dup: &database.Duplicate{EmployeeID: "E2", Distance: 0.2}}
	h := newHarness(t, func(o *Options) { o.Duplicates = finder })

	_, err := h.m.EnrollFace(context.Background(), "E1", photo(t, aliceColor))
	e := wantCode(t, err, CodeEnrollmentFailed)
	if e.Reason != ReasonAlreadyEnrolled {
		t.Errorf("expected %s, got %s", ReasonAlreadyEnrolled, e.Reason)
	}
	if finder.maxDistance != 0.6 {
		t.Errorf("expected search within base threshold 0.6, got %v", finder.maxDistance)
	}

	finder.dup, finder.err = nil, errors.New("index unavailable")
	if _, err := h.m.EnrollFace(context.Background(), "E1", photo(t, aliceColor)); err == nil || CodeOf(err) != "" {
		t.Errorf("expected plain infrastructure error, got %v", err)
	}
}

type mockFinder struct {
	dup         *database.Duplicate
	err         error
	maxDistance float64
}

func (f *mockFinder) FindDuplicate(_ context.Context, _ string, _ []float64, maxDistance float64) (*database.Duplicate, error) {
	f.maxDistance = maxDistance
	return f.dup, f.err
}

func TestEnrollFace_UnknownOrInactive(t *testing.T) {
	h := newHarness(t)
	h.employees.AddEmployee(database.Employee{ID: "E4", Active: false})

	_, err := h.m.EnrollFace(context.Background(), "nobody", photo(t, aliceColor))
	wantCode(t, err, CodeEmployeeNotFound)

	_, err = h.m.EnrollFace(context.Background(), "E4", photo(t, aliceColor))
	wantCode(t, err, CodeEmployeeInactive)
}

func TestRemoveEnrollment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enroll(t, "E1", aliceColor)

	if err := h.m.RemoveEnrollment(ctx, "E1"); err != nil {
		t.Fatalf("RemoveEnrollment: %v", err)
	}
	if err := h.m.RemoveEnrollment(ctx, "E1"); err != nil {
		t.Fatalf("second RemoveEnrollment: %v", err)
	}
	e1, _ := h.employees.GetEmployee(ctx, "E1")
	if e1.Enrolled() {
		t.Error("encoding not cleared")
	}
	if h.index.Len() != 0 {
		t.Errorf("index still holds %d entries", h.index.Len())
	}

	_, err := h.m.SubmitCheckIn(ctx, Submission{EmployeeID: "E1", Image: photo(t, aliceColor)})
	if !errors.Is(err, ErrEnrollmentRequired) {
		t.Errorf("expected ErrEnrollmentRequired, got %v", err)
	}

	if err := h.m.RemoveEnrollment(ctx, "nobody"); !errors.Is(err, ErrEmployeeNotFound) {
		t.Errorf("expected ErrEmployeeNotFound, got %v", err)
	}
}

func TestRebuildIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.enroll(t, "E1", aliceColor)
	h.enroll(t, "E2", bobColor)
	h.employees.AddEmployee(database.Employee{ID: "E5", Active: true, FaceEncoding: "corrupt"})

	h.index.Rebuild(nil, nil)
	n, err := h.m.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if n != 2 || h.index.Len() != 2 {
		t.Errorf("expected 2 indexed encodings, got %d/%d", n, h.index.Len())
	}

	dup, _ := h.index.FindDuplicate(ctx, "E3", carolEnc, 0.6)
	if dup == nil || dup.EmployeeID != "E1" {
		t.Errorf("expected rebuilt index to find E1, got %+v", dup)
	}
}

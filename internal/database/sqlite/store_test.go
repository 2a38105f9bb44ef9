package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	s := NewStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func checkIn(employeeID, date string, at time.Time) *database.AttendanceEvent {
	return &database.AttendanceEvent{
		EmployeeID: employeeID,
		WorkDate:   date,
		Type:       database.CheckIn,
		Timestamp:  at,
		Status:     database.StatusPresent,
		Verification: database.Verification{
			Matched: true, Confidence: 97.5, Distance: 0.21, Threshold: 0.54, Reason: "matched",
		},
	}
}

func TestEmployees(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetEmployee(ctx, "E1"); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.SaveEmployee(ctx, database.Employee{ID: "E1", Name: "Ada", Active: true}); err != nil {
		t.Fatalf("SaveEmployee: %v", err)
	}
	if err := s.SetFaceEncoding(ctx, "E1", database.FaceEncoding{Encoded: "abc"}); err != nil {
		t.Fatalf("SetFaceEncoding: %v", err)
	}
	// Updating name and flag keeps the enrollment.
	if err := s.SaveEmployee(ctx, database.Employee{ID: "E1", Name: "Ada L.", Active: false}); err != nil {
		t.Fatalf("SaveEmployee update: %v", err)
	}

	e, err := s.GetEmployee(ctx, "E1")
	if err != nil {
		t.Fatalf("GetEmployee: %v", err)
	}
	if e.Name != "Ada L." || e.Active {
		t.Errorf("unexpected employee %+v", e)
	}
	if !e.Enrolled() || e.FaceEncoding != "abc" || e.EnrolledAt == nil {
		t.Errorf("expected enrollment kept, got %+v", e)
	}

	if err := s.SetFaceEncoding(ctx, "E1", database.FaceEncoding{}); err != nil {
		t.Fatalf("clear encoding: %v", err)
	}
	e, _ = s.GetEmployee(ctx, "E1")
	if e.Enrolled() || e.EnrolledAt != nil {
		t.Errorf("expected cleared enrollment, got %+v", e)
	}

	if err := s.SetFaceEncoding(ctx, "missing", database.FaceEncoding{Encoded: "x"}); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_ = s.SaveEmployee(ctx, database.Employee{ID: "E0", Name: "Bob", Active: true})
	list, err := s.ListEmployees(ctx)
	if err != nil {
		t.Fatalf("ListEmployees: %v", err)
	}
	if len(list) != 2 || list[0].ID != "E0" || list[1].ID != "E1" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestEvents_OnePerDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.SaveEmployee(ctx, database.Employee{ID: "E1", Active: true})

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.InsertCheckIn(ctx, checkIn("E1", "2026-03-14", at))
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, database.ErrDuplicateEvent):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 3 {
		t.Errorf("expected 1 insert and 3 duplicates, got %d/%d", ok, dup)
	}

	// Another day is independent.
	if err := s.InsertCheckIn(ctx, checkIn("E1", "2026-03-15", at.AddDate(0, 0, 1))); err != nil {
		t.Errorf("next day check-in: %v", err)
	}
}

func TestEvents_CheckOutLinksCheckIn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.SaveEmployee(ctx, database.Employee{ID: "E1", Active: true})

	in := checkIn("E1", "2026-03-14", time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	in.Location = &database.Location{Lat: 50.08, Lng: 14.42}
	if err := s.InsertCheckIn(ctx, in); err != nil {
		t.Fatalf("InsertCheckIn: %v", err)
	}
	if in.ID == 0 || in.UID == "" {
		t.Fatalf("expected ID and UID set, got %+v", in)
	}

	hours := 8.5
	out := &database.AttendanceEvent{
		EmployeeID:   "E1",
		WorkDate:     "2026-03-14",
		Type:         database.CheckOut,
		Timestamp:    time.Date(2026, 3, 14, 17, 30, 0, 0, time.UTC),
		Status:       database.StatusCompleted,
		HoursWorked:  &hours,
		Verification: in.Verification,
	}
	if err := s.InsertCheckOut(ctx, out, in.ID); err != nil {
		t.Fatalf("InsertCheckOut: %v", err)
	}

	second := *out
	second.ID, second.UID = 0, ""
	if err := s.InsertCheckOut(ctx, &second, in.ID); !errors.Is(err, database.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}
	if second.ID != 0 {
		t.Errorf("rolled back check-out kept ID %d", second.ID)
	}

	day, err := s.EventsForDay(ctx, "E1", "2026-03-14")
	if err != nil {
		t.Fatalf("EventsForDay: %v", err)
	}
	d := database.NewDay(day)
	if d.CheckIn == nil || d.CheckOut == nil {
		t.Fatalf("expected both events, got %+v", day)
	}
	if d.CheckIn.PairedID == nil || *d.CheckIn.PairedID != out.ID {
		t.Errorf("check-in not linked to check-out: %+v", d.CheckIn.PairedID)
	}
	if d.CheckOut.PairedID == nil || *d.CheckOut.PairedID != in.ID {
		t.Errorf("check-out not linked to check-in: %+v", d.CheckOut.PairedID)
	}
	if d.CheckOut.HoursWorked == nil || *d.CheckOut.HoursWorked != 8.5 {
		t.Errorf("expected 8.5 hours, got %v", d.CheckOut.HoursWorked)
	}
	if d.CheckIn.Location == nil || d.CheckIn.Location.Lat != 50.08 {
		t.Errorf("expected location, got %+v", d.CheckIn.Location)
	}
	if !d.CheckIn.Timestamp.Equal(in.Timestamp) {
		t.Errorf("timestamp %v, want %v", d.CheckIn.Timestamp, in.Timestamp)
	}
	if !d.CheckIn.Verification.Matched || d.CheckIn.Verification.Reason != "matched" {
		t.Errorf("unexpected verification %+v", d.CheckIn.Verification)
	}

	all, err := s.EventsOnDate(ctx, "2026-03-14")
	if err != nil {
		t.Fatalf("EventsOnDate: %v", err)
	}
	if len(all) != 2 || all[0].Type != database.CheckIn {
		t.Errorf("unexpected events on date: %+v", all)
	}
}

func TestEvents_CheckOutWithoutCheckIn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.SaveEmployee(ctx, database.Employee{ID: "E1", Active: true})

	out := checkIn("E1", "2026-03-14", time.Now())
	out.Type = database.CheckOut
	if err := s.InsertCheckOut(ctx, out, 42); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	events, _ := s.EventsForDay(ctx, "E1", "2026-03-14")
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := config.DefaultVerificationSettings()

	got, err := s.LoadSettings(ctx, base)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != base {
		t.Errorf("expected base settings when none stored")
	}

	changed := base
	changed.Threshold = 0.5
	changed.GraceMinutes = 5
	if err := s.SaveSettings(ctx, changed); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	changed.GraceMinutes = 7
	if err := s.SaveSettings(ctx, changed); err != nil {
		t.Fatalf("SaveSettings overwrite: %v", err)
	}

	got, err = s.LoadSettings(ctx, base)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got.Threshold != 0.5 || got.GraceMinutes != 7 {
		t.Errorf("unexpected settings %+v", got)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := Migrate(ctx, s.db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recorded migration, got %d", n)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"0001_init.sql", 1, false},
		{"0012_add_index.sql", 12, false},
		{"abc_init.sql", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVersion(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOpen_RegisteredDriver(t *testing.T) {
	cfg := &config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "a.db")}
	b, err := database.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Duplicates != nil {
		t.Error("sqlite backend should leave duplicate search to the enrollment index")
	}
}

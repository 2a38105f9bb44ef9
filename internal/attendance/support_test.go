package attendance

import (
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func TestNormalizeEmployeeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"E1", "E1"},
		{"  E1\n", "E1"},
		{"Ｅ１２", "E12"},
		{"E\u200b1", "E1"},
		{"E\x001", "E1"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := NormalizeEmployeeID(tt.in); got != tt.want {
				t.Errorf("NormalizeEmployeeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHaversineMeters(t *testing.T) {
	d := HaversineMeters(database.Location{Lat: 0, Lng: 0}, database.Location{Lat: 0, Lng: 1})
	if math.Abs(d-111195) > 1 {
		t.Errorf("one degree of longitude on the equator: got %.1fm", d)
	}
	if d := HaversineMeters(database.Location{Lat: 50, Lng: 14}, database.Location{Lat: 50, Lng: 14}); d != 0 {
		t.Errorf("same point: got %v", d)
	}
}

func TestCheckLocation_Disabled(t *testing.T) {
	far := &database.Location{Lat: -33.86, Lng: 151.2}
	office := config.OfficeConfig{Lat: 50, Lng: 14, Set: true}

	if err := checkLocation(config.LocationSettings{Enabled: false, RadiusMeters: 10}, office, far); err != nil {
		t.Errorf("disabled geofence rejected: %v", err)
	}
	if err := checkLocation(config.LocationSettings{Enabled: true, RadiusMeters: 10}, config.OfficeConfig{}, far); err != nil {
		t.Errorf("geofence without office rejected: %v", err)
	}
	err := checkLocation(config.LocationSettings{Enabled: true, RadiusMeters: 10}, office, far)
	if !errors.Is(err, ErrOutsideGeofence) {
		t.Errorf("expected ErrOutsideGeofence, got %v", err)
	}
}

func TestAuditStore(t *testing.T) {
	dir := t.TempDir()
	a := NewAuditStore(dir)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	ref, err := a.Save("2026-03-16", "abc", img)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ref != "2026-03-16/abc.jpg" {
		t.Errorf("unexpected ref %q", ref)
	}
	path, ok := a.Path(ref)
	if !ok {
		t.Fatal("expected path for saved ref")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("audit file missing: %v", err)
	}

	a.Remove(ref)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file removed, got %v", err)
	}

	for _, bad := range []string{"abc", "../etc/passwd.jpg", "/abs/x.jpg"} {
		if _, ok := a.Path(bad); ok {
			t.Errorf("Path(%q) should be rejected", bad)
		}
	}
}

func TestAuditStore_Disabled(t *testing.T) {
	a := NewAuditStore("")
	ref, err := a.Save("2026-03-16", "abc", image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if err != nil || ref != "abc" {
		t.Errorf("expected bare uid, got %q, %v", ref, err)
	}
	if a.Enabled() {
		t.Error("empty dir should disable the store")
	}
}

func TestAuditStore_WriteFailure(t *testing.T) {
	// A regular file where the date directory should go.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "2026-03-16"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	a := NewAuditStore(dir)
	if _, err := a.Save("2026-03-16", "abc", image.NewRGBA(image.Rect(0, 0, 1, 1))); err == nil {
		t.Error("expected write failure")
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	l1 := b.AddListener()
	l2 := b.AddListener()
	if b.Listeners() != 2 {
		t.Fatalf("expected 2 listeners, got %d", b.Listeners())
	}

	b.SendEvent(Event{Type: "check_in"})
	for _, l := range []chan Event{l1, l2} {
		if ev := <-l; ev.Type != "check_in" {
			t.Errorf("unexpected event %+v", ev)
		}
	}

	b.RemoveListener(l1)
	if _, open := <-l1; open {
		t.Error("removed listener should be closed")
	}
	b.RemoveListener(l1)
	if b.Listeners() != 1 {
		t.Errorf("expected 1 listener, got %d", b.Listeners())
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("E1")
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected exclusive access, saw %d holders", maxSeen)
	}
	if k.size() != 0 {
		t.Errorf("expected no retained entries, got %d", k.size())
	}
}

func TestError_Messages(t *testing.T) {
	err := verificationError(biometric.Result{Confidence: 42.5, Distance: 0.71, Threshold: 0.6, Reason: biometric.ReasonBelowThreshold})
	want := "face verification failed (below_threshold): confidence 42.50%, distance 0.7100, threshold 0.6000"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
	if got := stateError(CodeDuplicateCheckIn).Error(); got != "already checked in today" {
		t.Errorf("got %q", got)
	}
	if CodeOf(errors.New("x")) != "" {
		t.Error("expected empty code for foreign error")
	}
}

package attendance

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

// Each test "person" is a solid-colour image; the fake encoder maps the
// colour to a fixed encoding.
var (
	aliceColor     = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	bobColor       = color.RGBA{R: 40, G: 40, B: 200, A: 255}
	carolColor     = color.RGBA{R: 200, G: 42, B: 40, A: 255}
	crowdColor     = color.RGBA{R: 40, G: 200, B: 40, A: 255}
	emptyRoomColor = color.RGBA{A: 255}
)

func encodingOf(f func(i int) float64) biometric.Encoding {
	e := make(biometric.Encoding, biometric.Dim)
	for i := range e {
		e[i] = f(i)
	}
	return e
}

var (
	aliceEnc = encodingOf(func(i int) float64 { return 0.1 + float64(i%7)*0.05 })
	bobEnc   = encodingOf(func(i int) float64 { return 0.1 + float64((i*5)%11)*0.04 })
	// Close enough to alice to count as the same face.
	carolEnc = encodingOf(func(i int) float64 { return 0.11 + float64(i%7)*0.05 })
)

type fakeEncoder struct {
	mu    sync.Mutex
	faces map[color.RGBA]biometric.Encoding
	calls int
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{faces: map[color.RGBA]biometric.Encoding{
		aliceColor: aliceEnc,
		bobColor:   bobEnc,
		carolColor: carolEnc,
		crowdColor: aliceEnc,
	}}
}

func (f *fakeEncoder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeEncoder) Encode(_ context.Context, img *image.RGBA) (biometric.Encoding, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	c := img.RGBAAt(img.Bounds().Min.X, img.Bounds().Min.Y)
	enc, ok := f.faces[c]
	if !ok {
		return nil, &biometric.Error{Kind: biometric.KindDetection, Reason: biometric.ReasonNoFace}
	}
	return enc.Clone(), nil
}

func (f *fakeEncoder) EncodeStrict(ctx context.Context, img *image.RGBA) (biometric.Encoding, error) {
	if img.RGBAAt(img.Bounds().Min.X, img.Bounds().Min.Y) == crowdColor {
		f.mu.Lock()
		f.calls++
		f.mu.Unlock()
		return nil, &biometric.Error{Kind: biometric.KindDetection, Reason: biometric.ReasonAmbiguousFaces}
	}
	return f.Encode(ctx, img)
}

func photo(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type harness struct {
	m         *Manager
	employees *mock.MockEmployeeStore
	events    *mock.MockEventStore
	shifts    *mock.MockShiftReader
	encoder   *fakeEncoder
	index     *database.EnrollmentIndex

	mu  sync.Mutex
	now time.Time
}

func (h *harness) setNow(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = t
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 16, hour, minute, 0, 0, time.UTC)
}

func newHarness(t *testing.T, modify ...func(*Options)) *harness {
	t.Helper()
	backend, employees, events := mock.Backend()
	h := &harness{
		employees: employees,
		events:    events,
		shifts:    mock.NewMockShiftReader(),
		encoder:   newFakeEncoder(),
		index:     database.NewEnrollmentIndex(),
		now:       at(9, 0),
	}
	opts := Options{
		Location: time.UTC,
		Shifts:   h.shifts,
		Index:    h.index,
		Now:      h.clock,
	}
	for _, fn := range modify {
		fn(&opts)
	}
	pipeline := biometric.NewPipeline(h.encoder, biometric.NewPool(2, 5*time.Second))
	h.m = NewManager(backend, pipeline, opts)

	for _, id := range []string{"E1", "E2", "E3"} {
		employees.AddEmployee(database.Employee{ID: id, Name: id, Active: true})
	}
	return h
}

// enroll stores c's encoding for id directly.
func (h *harness) enroll(t *testing.T, id string, c color.RGBA) {
	t.Helper()
	if _, err := h.m.EnrollFace(context.Background(), id, photo(t, c)); err != nil {
		t.Fatalf("EnrollFace(%s): %v", id, err)
	}
}

func wantCode(t *testing.T, err error, code Code) *Error {
	t.Helper()
	var e *Error
	if !asError(err, &e) {
		t.Fatalf("expected *Error with code %s, got %v", code, err)
	}
	if e.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, e.Code, err)
	}
	return e
}

package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
)

var (
	aliceColor = color.RGBA{R: 200, G: 40, B: 40, A: 255}
	bobColor   = color.RGBA{R: 40, G: 40, B: 200, A: 255}
	emptyColor = color.RGBA{A: 255}
)

func testEncoding(step float64, mod int) biometric.Encoding {
	e := make(biometric.Encoding, biometric.Dim)
	for i := range e {
		e[i] = 0.1 + float64((i*mod)%11)*step
	}
	return e
}

// colorEncoder maps the top-left pixel colour of a capture to a fixed encoding.
type colorEncoder map[color.RGBA]biometric.Encoding

func (c colorEncoder) Encode(_ context.Context, img *image.RGBA) (biometric.Encoding, error) {
	enc, ok := c[img.RGBAAt(img.Bounds().Min.X, img.Bounds().Min.Y)]
	if !ok {
		return nil, &biometric.Error{Kind: biometric.KindDetection, Reason: biometric.ReasonNoFace}
	}
	return enc.Clone(), nil
}

func (c colorEncoder) EncodeStrict(ctx context.Context, img *image.RGBA) (biometric.Encoding, error) {
	return c.Encode(ctx, img)
}

// testPhoto returns a PNG filled with c.
func testPhoto(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testPhotoBase64(t *testing.T, c color.RGBA) string {
	t.Helper()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(testPhoto(t, c))
}

type testEnv struct {
	manager   *attendance.Manager
	employees *mock.MockEmployeeStore
	events    *mock.MockEventStore
	config    *config.Config
	now       time.Time
}

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Database:     config.DatabaseConfig{Driver: "sqlite"},
		Pipeline:     config.PipelineConfig{Workers: 2, Timeout: 5 * time.Second},
		Location:     time.UTC,
		Verification: config.DefaultVerificationSettings(),
	}
}

// newTestEnv builds a manager on the in-memory backend with employees E1
// (enrolled as alice) and E2 (not enrolled). auditDir may be empty.
func newTestEnv(t *testing.T, auditDir string) *testEnv {
	t.Helper()
	backend, employees, events := mock.Backend()
	env := &testEnv{
		employees: employees,
		events:    events,
		config:    testConfig(),
		now:       time.Date(2026, 3, 16, 8, 55, 0, 0, time.UTC),
	}

	encoder := colorEncoder{
		aliceColor: testEncoding(0.05, 1),
		bobColor:   testEncoding(0.04, 5),
	}
	pipeline := biometric.NewPipeline(encoder, biometric.NewPool(2, 5*time.Second))
	env.manager = attendance.NewManager(backend, pipeline, attendance.Options{
		Base:     env.config.Verification,
		Location: time.UTC,
		Shifts:   mock.NewMockShiftReader(),
		Index:    database.NewEnrollmentIndex(),
		Audit:    attendance.NewAuditStore(auditDir),
		Now:      func() time.Time { return env.now },
	})

	employees.AddEmployee(database.Employee{ID: "E1", Name: "Alice", Active: true})
	employees.AddEmployee(database.Employee{ID: "E2", Name: "Bob", Active: true})
	if _, err := env.manager.EnrollFace(context.Background(), "E1", testPhoto(t, aliceColor)); err != nil {
		t.Fatalf("enroll E1: %v", err)
	}
	return env
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, path string, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if image != nil {
		part, err := mw.CreateFormFile("face_image", "capture.png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(image)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rec.Body.String(), err)
	}
	return v
}

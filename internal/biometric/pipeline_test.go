package biometric

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(200, 160)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(d *fakeDetector) *Pipeline {
	return NewPipeline(newTestEncoder(d, nil, &gridEmbedder{}), NewPool(2, 5*time.Second))
}

func TestPipeline_CaptureAndVerify(t *testing.T) {
	p := newTestPipeline(&fakeDetector{boxes: faceBox})
	raw := pngBytes(t)

	capture, err := p.Capture(context.Background(), raw, true)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if len(capture.Encoding) != Dim {
		t.Fatalf("expected %d values, got %d", Dim, len(capture.Encoding))
	}
	if capture.Image.Bounds().Dx() != 200 {
		t.Errorf("expected normalized image width 200, got %d", capture.Image.Bounds().Dx())
	}

	stored, err := EncodeString(capture.Encoding)
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}

	out := p.Verify(context.Background(), stored, raw, DefaultMatchSettings())
	if !out.Matched || out.Reason != ReasonMatched {
		t.Fatalf("expected match, got %+v", out.Result)
	}
	if out.Confidence < 99.999 {
		t.Errorf("expected confidence ~100, got %v", out.Confidence)
	}
	if out.Image == nil {
		t.Error("expected the processed image on the outcome")
	}
}

func TestPipeline_VerifyFailsClosed(t *testing.T) {
	stored, _ := EncodeString(constantEncoding(0.3))

	tests := []struct {
		name     string
		detector *fakeDetector
		stored   string
		raw      []byte
		reason   Reason
	}{
		{"no stored encoding", &fakeDetector{boxes: faceBox}, "", []byte("x"), ReasonMissingEncoding},
		{"corrupt stored encoding", &fakeDetector{boxes: faceBox}, "AAAA", []byte("x"), ReasonCorruptEncoding},
		{"empty image", &fakeDetector{boxes: faceBox}, stored, nil, ReasonEmptyImage},
		{"undecodable image", &fakeDetector{boxes: faceBox}, stored, []byte("definitely not an image"), ReasonImageDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := newTestPipeline(tt.detector).Verify(context.Background(), tt.stored, tt.raw, DefaultMatchSettings())
			if out.Matched || out.Confidence != 0 {
				t.Errorf("expected (false, 0), got %+v", out.Result)
			}
			if out.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, out.Reason)
			}
			if out.Threshold != 0.6 {
				t.Errorf("expected threshold to be reported, got %v", out.Threshold)
			}
		})
	}
}

func TestPipeline_NoFaceDetected(t *testing.T) {
	stored, _ := EncodeString(constantEncoding(0.3))
	out := newTestPipeline(&fakeDetector{}).Verify(context.Background(), stored, pngBytes(t), DefaultMatchSettings())
	if out.Matched || out.Reason != ReasonNoFace {
		t.Errorf("expected no_face_detected, got %+v", out.Result)
	}
}

func TestPipeline_DifferentFaceRejected(t *testing.T) {
	stored, _ := EncodeString(constantEncoding(-0.5))
	out := newTestPipeline(&fakeDetector{boxes: faceBox}).Verify(context.Background(), stored, pngBytes(t), DefaultMatchSettings())
	if out.Matched || out.Reason != ReasonBelowThreshold {
		t.Errorf("expected below_threshold, got %+v", out.Result)
	}
}

func TestPipeline_CaptureBox(t *testing.T) {
	d := &fakeDetector{}
	p := newTestPipeline(d)

	capture, err := p.CaptureBox(context.Background(), pngBytes(t), faceBox[0])
	if err != nil {
		t.Fatalf("CaptureBox: %v", err)
	}
	if !capture.Encoding.Valid() {
		t.Errorf("expected a valid encoding, got %d values", len(capture.Encoding))
	}
	if d.Calls() != 0 {
		t.Errorf("expected detection to be skipped, got %d calls", d.Calls())
	}
}

// detectOnly hides the box encoding method of the wrapped encoder.
type detectOnly struct {
	FaceEncoder
}

func TestPipeline_CaptureBoxUnsupported(t *testing.T) {
	enc := newTestEncoder(&fakeDetector{}, nil, &gridEmbedder{})
	p := NewPipeline(detectOnly{enc}, NewPool(1, time.Second))

	_, err := p.CaptureBox(context.Background(), pngBytes(t), faceBox[0])
	if !errors.Is(err, ErrEncodingFailed) {
		t.Errorf("expected encoding failure, got %v", err)
	}
}

func TestScaleBox(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
		want  image.Rectangle
	}{
		{"unscaled", 1, image.Rect(120, 80, 280, 240)},
		{"halved", 0.5, image.Rect(60, 40, 140, 120)},
		{"quarter", 0.25, image.Rect(30, 20, 70, 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scaleBox(image.Rect(120, 80, 280, 240), tt.scale); got != tt.want {
				t.Errorf("scaleBox() = %v, want %v", got, tt.want)
			}
		})
	}
}

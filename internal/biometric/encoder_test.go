package biometric

import (
	"context"
	"errors"
	"image"
	"testing"
)

var faceBox = []image.Rectangle{image.Rect(60, 40, 140, 120)}

func newTestEncoder(d Detector, final Detector, emb Embedder) *Encoder {
	return NewEncoder(NewLocator(&fakeLighting{}, d), emb, final, DefaultEncoderOptions())
}

func TestEncoder_FirstVariant(t *testing.T) {
	d := &fakeDetector{boxes: faceBox}
	emb := &gridEmbedder{}

	enc, err := newTestEncoder(d, nil, emb).Encode(context.Background(), testImage(200, 160))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !enc.Valid() {
		t.Errorf("expected a valid encoding, got %d values", len(enc))
	}
	if d.Calls() != 1 {
		t.Errorf("expected one detection, got %d", d.Calls())
	}
	if emb.calls.Load() != 5 {
		t.Errorf("expected 5 jittered samples, got %d", emb.calls.Load())
	}
}

func TestEncoder_FallsBackThroughVariants(t *testing.T) {
	d := &fakeDetector{boxes: faceBox, skip: 2}
	emb := &gridEmbedder{}

	if _, err := newTestEncoder(d, nil, emb).Encode(context.Background(), testImage(200, 160)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Calls() != 3 {
		t.Errorf("expected original, equalized and clahe attempts, got %d", d.Calls())
	}
}

func TestEncoder_WithoutLightingTriesOriginalOnly(t *testing.T) {
	d := &fakeDetector{boxes: faceBox, skip: 1}
	enc := NewEncoder(NewLocator(nil, d), &gridEmbedder{}, nil, DefaultEncoderOptions())

	if _, err := enc.Encode(context.Background(), testImage(200, 160)); !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if d.Calls() != 1 {
		t.Errorf("expected a single detection, got %d", d.Calls())
	}
}

func TestEncoder_ClaheVariantEmbedsClaheBuffer(t *testing.T) {
	lighting := &fakeLighting{}
	d := &fakeDetector{boxes: faceBox, skip: 2}
	emb := &gridEmbedder{}
	img := testImage(200, 160)

	got, err := NewEncoder(NewLocator(lighting, d), emb, nil, DefaultEncoderOptions()).Encode(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lighting.claheCalls.Load() != 1 {
		t.Errorf("expected one CLAHE pass, got %d", lighting.claheCalls.Load())
	}

	want, err := NewEncoder(NewLocator(nil, &fakeDetector{boxes: faceBox}), &gridEmbedder{}, nil, DefaultEncoderOptions()).
		Encode(context.Background(), shifted(img, claheShift))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := euclidean(got, want); d > 1e-12 {
		t.Errorf("expected the CLAHE buffer to be embedded, distance %v", d)
	}
}

func TestEncoder_FinalAttempt(t *testing.T) {
	d := &fakeDetector{}
	final := &fakeDetector{name: "cnn", boxes: faceBox}
	emb := &gridEmbedder{}

	if _, err := newTestEncoder(d, final, emb).Encode(context.Background(), testImage(200, 160)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Calls() != 1 {
		t.Errorf("expected one final detection, got %d", final.Calls())
	}
	if emb.calls.Load() != 10 {
		t.Errorf("expected 10 jittered samples in the final attempt, got %d", emb.calls.Load())
	}
}

func TestEncoder_NoFace(t *testing.T) {
	_, err := newTestEncoder(&fakeDetector{}, &fakeDetector{}, &gridEmbedder{}).Encode(context.Background(), testImage(100, 100))
	if !errors.Is(err, ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
	if ReasonOf(err) != ReasonNoFace {
		t.Errorf("expected no_face_detected, got %s", ReasonOf(err))
	}
}

func TestEncoder_EmbedderFailure(t *testing.T) {
	_, err := newTestEncoder(&fakeDetector{boxes: faceBox}, nil, &gridEmbedder{err: errDetector}).
		Encode(context.Background(), testImage(200, 160))
	if !errors.Is(err, ErrEncodingFailed) {
		t.Errorf("expected encoding failure, got %v", err)
	}
	if !errors.Is(err, errDetector) {
		t.Errorf("expected underlying cause to be kept, got %v", err)
	}
}

func TestEncoder_DimensionMismatch(t *testing.T) {
	_, err := newTestEncoder(&fakeDetector{boxes: faceBox}, nil, &gridEmbedder{dim: 64}).
		Encode(context.Background(), testImage(200, 160))
	if ReasonOf(err) != ReasonDimensionMismatch {
		t.Errorf("expected dimension mismatch, got %v", err)
	}
}

func TestEncoder_StrictRejectsAmbiguous(t *testing.T) {
	d := &fakeDetector{boxes: []image.Rectangle{image.Rect(0, 0, 50, 50), image.Rect(100, 0, 148, 48)}}

	enc := newTestEncoder(d, nil, &gridEmbedder{})
	if _, err := enc.EncodeStrict(context.Background(), testImage(200, 100)); ReasonOf(err) != ReasonAmbiguousFaces {
		t.Errorf("expected ambiguous faces, got %v", err)
	}
	// The lenient path picks the largest face.
	if _, err := enc.Encode(context.Background(), testImage(200, 100)); err != nil {
		t.Errorf("expected lenient encode to succeed, got %v", err)
	}
}

func TestEncoder_StrictAcceptsDominantFace(t *testing.T) {
	d := &fakeDetector{boxes: []image.Rectangle{image.Rect(0, 0, 80, 80), image.Rect(150, 0, 170, 20)}}

	if _, err := newTestEncoder(d, nil, &gridEmbedder{}).EncodeStrict(context.Background(), testImage(200, 100)); err != nil {
		t.Errorf("expected dominant face to be accepted, got %v", err)
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	enc := newTestEncoder(&fakeDetector{boxes: faceBox}, nil, &gridEmbedder{})
	img := testImage(200, 160)

	a, err := enc.Encode(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := enc.Encode(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := euclidean(a, b); d > 1e-12 {
		t.Errorf("expected identical encodings, distance %v", d)
	}
}

func TestEncoder_InvalidBuffer(t *testing.T) {
	enc := newTestEncoder(&fakeDetector{boxes: faceBox}, nil, &gridEmbedder{})

	tests := []struct {
		name string
		img  *image.RGBA
	}{
		{"nil", nil},
		{"empty", image.NewRGBA(image.Rect(0, 0, 0, 0))},
		{"short pixel slice", &image.RGBA{Pix: make([]byte, 10), Stride: 40, Rect: image.Rect(0, 0, 10, 10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Encode(context.Background(), tt.img); !errors.Is(err, ErrInvalidImage) {
				t.Errorf("expected ErrInvalidImage, got %v", err)
			}
		})
	}
}

func TestEncoder_EncodeBox(t *testing.T) {
	d := &fakeDetector{}
	emb := &gridEmbedder{}
	enc := newTestEncoder(d, nil, emb)

	got, err := enc.EncodeBox(context.Background(), testImage(200, 160), faceBox[0])
	if err != nil || !got.Valid() {
		t.Fatalf("expected valid encoding, got %v", err)
	}
	if d.Calls() != 0 {
		t.Errorf("expected detection to be skipped, got %d calls", d.Calls())
	}
	if _, err := enc.EncodeBox(context.Background(), testImage(200, 160), image.Rect(500, 500, 600, 600)); !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("expected no face for box outside image, got %v", err)
	}
}

func TestJitterBox_StaysInBounds(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 100)
	box := image.Rect(0, 0, 100, 100)
	for i := 0; i < 20; i++ {
		r := jitterBox(box, i, bounds)
		if !r.In(bounds) || r.Empty() {
			t.Errorf("jitter %d produced %v", i, r)
		}
	}
	if jitterBox(box, 0, bounds) != box {
		t.Error("first jitter must be the unmodified box")
	}
}

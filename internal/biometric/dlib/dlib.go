// Package dlib adapts the dlib face models (HOG and CNN detectors, ResNet
// descriptor) to the biometric pipeline.
package dlib

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// Model files expected in the models directory.
var ModelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// ErrNoFaceInCrop is returned when the descriptor model cannot find the face
// inside the region it was given.
var ErrNoFaceInCrop = errors.New("no face in crop")

const (
	jpegQuality = 95
	cropPadding = 0.25

	// Faces narrower than minCropFace pixels are enlarged before the
	// descriptor model's own detection pass, up to maxCropScale.
	minCropFace  = 150
	maxCropScale = 4.0
)

// Recognizer wraps a dlib recognizer. The underlying models are not safe for
// concurrent use, so every call is serialized.
type Recognizer struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

// Open loads the models from dir.
func Open(dir string) (*Recognizer, error) {
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", dir, err)
	}
	return &Recognizer{rec: rec}, nil
}

// Close releases the models.
func (r *Recognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Close()
}

// HOG returns the fast histogram-of-gradients detector.
func (r *Recognizer) HOG() biometric.Detector {
	return &detector{r: r, cnn: false}
}

// CNN returns the slower MMOD convolutional detector.
func (r *Recognizer) CNN() biometric.Detector {
	return &detector{r: r, cnn: true}
}

type detector struct {
	r   *Recognizer
	cnn bool
}

func (d *detector) Name() string {
	if d.cnn {
		return "dlib-cnn"
	}
	return "dlib-hog"
}

func (d *detector) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := imaging.EncodeJPEG(img, jpegQuality)
	if err != nil {
		return nil, err
	}

	d.r.mu.Lock()
	var faces []face.Face
	if d.cnn {
		faces, err = d.r.rec.RecognizeCNN(data)
	} else {
		faces, err = d.r.rec.Recognize(data)
	}
	d.r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%s detection: %w", d.Name(), err)
	}

	origin := img.Bounds().Min
	boxes := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		boxes = append(boxes, f.Rectangle.Add(origin))
	}
	return boxes, nil
}

// Embed computes the 128-d descriptor of the face inside box. The crop is
// padded so the landmark model sees the whole face. go-face re-detects the face
// inside the crop, so small faces are enlarged first and a HOG miss is retried
// with the CNN detector.
func (r *Recognizer) Embed(ctx context.Context, img image.Image, box image.Rectangle) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	crop := imaging.Crop(img, pad(box, img.Bounds()))
	if factor := cropScale(box); factor > 1 {
		crop = imaging.Scale(crop, factor)
	}
	data, err := imaging.EncodeJPEG(crop, jpegQuality)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	f, err := r.rec.RecognizeSingle(data)
	if err == nil && f == nil && ctx.Err() == nil {
		f, err = r.rec.RecognizeSingleCNN(data)
	}
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("compute descriptor: %w", err)
	}
	if f == nil {
		return nil, ErrNoFaceInCrop
	}

	vec := make([]float64, len(f.Descriptor))
	for i, v := range f.Descriptor {
		vec[i] = float64(v)
	}
	return vec, nil
}

// cropScale returns the enlargement applied to the crop around box.
func cropScale(box image.Rectangle) float64 {
	side := min(box.Dx(), box.Dy())
	if side <= 0 || side >= minCropFace {
		return 1
	}
	return min(maxCropScale, float64(minCropFace)/float64(side))
}

func pad(box, bounds image.Rectangle) image.Rectangle {
	dx := int(float64(box.Dx()) * cropPadding)
	dy := int(float64(box.Dy()) * cropPadding)
	return image.Rect(box.Min.X-dx, box.Min.Y-dy, box.Max.X+dx, box.Max.Y+dy).Intersect(bounds)
}

// Package opencv provides the Haar cascade detector used as the last detection
// fallback.
package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Detection parameters for DetectMultiScaleWithParams.
const (
	scaleFactor  = 1.1
	minNeighbors = 5
	minFaceSize  = 30
)

// DefaultCascadePaths are searched when no explicit cascade file is configured.
var DefaultCascadePaths = []string{
	"haarcascade_frontalface_default.xml",
	"/usr/local/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
	"/usr/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
	"/opt/homebrew/share/opencv4/haarcascades/haarcascade_frontalface_default.xml",
}

// Cascade is a frontal face Haar cascade. A classifier must not be used from
// several goroutines at once.
type Cascade struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
}

// OpenCascade loads the cascade from path, or from DefaultCascadePaths when
// path is empty.
func OpenCascade(path string) (*Cascade, error) {
	candidates := DefaultCascadePaths
	if path != "" {
		candidates = []string{path}
	}

	classifier := gocv.NewCascadeClassifier()
	for _, p := range candidates {
		if classifier.Load(p) {
			return &Cascade{classifier: classifier}, nil
		}
	}
	classifier.Close()
	return nil, fmt.Errorf("failed to load face cascade classifier from %v", candidates)
}

// Close releases the classifier.
func (c *Cascade) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.classifier.Close()
}

func (c *Cascade) Name() string {
	return "haar-cascade"
}

// Detect runs the cascade on the grayscale version of img.
func (c *Cascade) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	c.mu.Lock()
	rects := c.classifier.DetectMultiScaleWithParams(gray, scaleFactor, minNeighbors, 0,
		image.Pt(minFaceSize, minFaceSize), image.Pt(0, 0))
	c.mu.Unlock()

	origin := img.Bounds().Min
	for i := range rects {
		rects[i] = rects[i].Add(origin)
	}
	return rects, nil
}

package biometric

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// Lighting produces contrast-normalized copies of a capture.
type Lighting interface {
	Equalize(img image.Image) (*image.RGBA, error)
	CLAHE(img image.Image) (*image.RGBA, error)
}

// Detector is one face detection strategy.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error)
}

// Locator tries its detection strategies in order and returns the boxes of the
// first one that finds anything.
type Locator struct {
	lighting   Lighting
	strategies []Detector
}

// NewLocator creates a locator over an ordered strategy list, fastest first.
// Detection runs on the histogram-equalized capture; a nil lighting detects on
// the capture as given.
func NewLocator(lighting Lighting, strategies ...Detector) *Locator {
	return &Locator{lighting: lighting, strategies: strategies}
}

// Strategies returns the names of the configured strategies in order.
func (l *Locator) Strategies() []string {
	names := make([]string, len(l.strategies))
	for i, s := range l.strategies {
		names[i] = s.Name()
	}
	return names
}

// Locate returns candidate face boxes ordered by area, largest first. An empty
// result is not an error. A failing strategy is logged and skipped; only
// context cancellation aborts the search.
func (l *Locator) Locate(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, newError(KindImage, ReasonInvalidImage, fmt.Errorf("empty pixel buffer"))
	}

	// Lighting normalization is shared by every strategy.
	var equalized image.Image = img
	if l.lighting != nil {
		eq, err := l.lighting.Equalize(img)
		if err != nil {
			log.Printf("WARNING: histogram equalization failed, detecting on original: %v", err)
		} else {
			equalized = eq
		}
	}

	for _, strategy := range l.strategies {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}
		boxes, err := strategy.Detect(ctx, equalized)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, timeoutError(ctxErr)
			}
			log.Printf("WARNING: %s detection failed: %v", strategy.Name(), err)
			continue
		}
		boxes = clipBoxes(boxes, img.Bounds())
		if len(boxes) > 0 {
			SortLargestFirst(boxes)
			return boxes, nil
		}
	}
	return nil, nil
}

// clipBoxes keeps the parts of boxes inside bounds and drops empty results.
func clipBoxes(boxes []image.Rectangle, bounds image.Rectangle) []image.Rectangle {
	out := boxes[:0]
	for _, b := range boxes {
		if b = b.Canon().Intersect(bounds); !b.Empty() {
			out = append(out, b)
		}
	}
	return out
}

// maxUpsampledPixels caps the buffer size an upsampling pass may produce.
const maxUpsampledPixels = 3200 * 2400

type upsampled struct {
	Detector
	passes int
}

// Upsampled wraps d so that, when the original size yields nothing, the image
// is enlarged 2x per pass and detection is retried. Boxes are mapped back to the
// original coordinates.
func Upsampled(d Detector, passes int) Detector {
	return &upsampled{Detector: d, passes: passes}
}

func (u *upsampled) Name() string {
	return fmt.Sprintf("%s+upsample%d", u.Detector.Name(), u.passes)
}

func (u *upsampled) Detect(ctx context.Context, img image.Image) ([]image.Rectangle, error) {
	bounds := img.Bounds()
	for pass := 0; pass <= u.passes; pass++ {
		factor := 1 << pass
		src := img
		if pass > 0 {
			if bounds.Dx()*factor*bounds.Dy()*factor > maxUpsampledPixels {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			src = imaging.Scale(img, float64(factor))
		}
		boxes, err := u.Detector.Detect(ctx, src)
		if err != nil {
			return nil, err
		}
		if len(boxes) == 0 {
			continue
		}
		if pass > 0 {
			// Scaled buffers start at (0, 0).
			for i, b := range boxes {
				boxes[i] = image.Rect(
					bounds.Min.X+b.Min.X/factor, bounds.Min.Y+b.Min.Y/factor,
					bounds.Min.X+b.Max.X/factor, bounds.Min.Y+b.Max.Y/factor,
				)
			}
		}
		return boxes, nil
	}
	return nil, nil
}

package opencv

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// CLAHE defaults, matching the usual OpenCV parameterization.
const (
	DefaultClipLimit = 2.0
	DefaultTileGrid  = 8
)

// Lighting produces grayscale contrast-normalized copies of captures. The
// returned buffers keep the bounds of the input image.
type Lighting struct {
	clipLimit float64
	tileGrid  int
}

// NewLighting creates a lighting normalizer. Non-positive arguments fall back
// to DefaultClipLimit and DefaultTileGrid.
func NewLighting(clipLimit float64, tileGrid int) *Lighting {
	if clipLimit <= 0 {
		clipLimit = DefaultClipLimit
	}
	if tileGrid < 1 {
		tileGrid = DefaultTileGrid
	}
	return &Lighting{clipLimit: clipLimit, tileGrid: tileGrid}
}

// Equalize applies global histogram equalization.
func (l *Lighting) Equalize(img image.Image) (*image.RGBA, error) {
	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(gray, &equalized)

	return toRGBA(equalized, img.Bounds().Min)
}

// CLAHE applies contrast-limited adaptive histogram equalization.
func (l *Lighting) CLAHE(img image.Image) (*image.RGBA, error) {
	gray, err := grayMat(img)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	clahe := gocv.NewCLAHEWithParams(l.clipLimit, image.Pt(l.tileGrid, l.tileGrid))
	defer clahe.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	clahe.Apply(gray, &dst)

	return toRGBA(dst, img.Bounds().Min)
}

// grayMat converts img to a single-channel 8-bit Mat with origin (0, 0).
func grayMat(img image.Image) (gocv.Mat, error) {
	if img == nil || img.Bounds().Empty() {
		return gocv.Mat{}, fmt.Errorf("empty image")
	}
	bgr, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image: %w", err)
	}
	defer bgr.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// toRGBA expands a grayscale Mat to three identical channels and places the
// result at origin.
func toRGBA(gray gocv.Mat, origin image.Point) (*image.RGBA, error) {
	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)

	out, err := bgr.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert mat: %w", err)
	}
	rgba, ok := out.(*image.RGBA)
	if !ok {
		b := out.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), out, b.Min, draw.Src)
	}
	rgba.Rect = rgba.Rect.Sub(rgba.Rect.Min).Add(origin)
	return rgba, nil
}

package biometric

import (
	"context"
	"errors"
	"image"
	"image/color"
	"slices"
	"sync"
	"sync/atomic"
)

// fakeDetector returns nothing for the first skip calls and boxes afterwards.
type fakeDetector struct {
	name  string
	boxes []image.Rectangle
	err   error
	skip  int

	mu    sync.Mutex
	calls int
	sizes []image.Rectangle
}

func (f *fakeDetector) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeDetector) Detect(_ context.Context, img image.Image) ([]image.Rectangle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sizes = append(f.sizes, img.Bounds())
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.skip {
		return nil, nil
	}
	return slices.Clone(f.boxes), nil
}

func (f *fakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// gridEmbedder samples a 16x8 grid of intensities inside the face box.
type gridEmbedder struct {
	calls atomic.Int32
	dim   int
	err   error
}

func (g *gridEmbedder) Embed(_ context.Context, img image.Image, face image.Rectangle) ([]float64, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	dim := g.dim
	if dim == 0 {
		dim = Dim
	}
	vec := make([]float64, dim)
	for i := range vec {
		x := face.Min.X + (i%16)*face.Dx()/16
		y := face.Min.Y + (i/16%8)*face.Dy()/8
		r, gg, b, _ := img.At(x, y).RGBA()
		vec[i] = float64(r+gg+b)/(3*65535) + 0.01
	}
	return vec, nil
}

// Pixel offsets applied by fakeLighting.
const (
	equalizeShift = 40
	claheShift    = -30
)

// fakeLighting shifts every channel by a fixed amount per variant.
type fakeLighting struct {
	err           error
	equalizeCalls atomic.Int32
	claheCalls    atomic.Int32
}

func (f *fakeLighting) Equalize(img image.Image) (*image.RGBA, error) {
	f.equalizeCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return shifted(img, equalizeShift), nil
}

func (f *fakeLighting) CLAHE(img image.Image) (*image.RGBA, error) {
	f.claheCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return shifted(img, claheShift), nil
}

func shifted(img image.Image, delta int) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			dst.SetRGBA(x, y, shiftPixel(c, delta))
		}
	}
	return dst
}

func shiftPixel(c color.RGBA, delta int) color.RGBA {
	clamp := func(v uint8) uint8 { return uint8(max(0, min(255, int(v)+delta))) }
	return color.RGBA{R: clamp(c.R), G: clamp(c.G), B: clamp(c.B), A: c.A}
}

var errDetector = errors.New("detector exploded")

// testImage draws a diagonal gradient with a brighter square "face".
func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + y) * 200 / (w + h))
			if x > w/4 && x < 3*w/4 && y > h/4 && y < 3*h/4 {
				v = 120 + uint8((x*7+y*3)%100)
			}
			img.Set(x, y, color.RGBA{R: v, G: v / 2, B: 255 - v, A: 255})
		}
	}
	return img
}

func constantEncoding(v float64) Encoding {
	enc := make(Encoding, Dim)
	for i := range enc {
		enc[i] = v
	}
	return enc
}

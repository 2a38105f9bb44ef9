package opencv

import (
	"image"
	"image/color"
	"testing"
)

// lowContrast draws a horizontal ramp over a narrow band of gray levels.
func lowContrast(r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v := uint8(100 + (x-r.Min.X)*10/r.Dx())
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func spread(img *image.RGBA) (lo, hi uint8) {
	lo = 255
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			if c.R != c.G || c.G != c.B {
				return 0, 0
			}
			lo, hi = min(lo, c.R), max(hi, c.R)
		}
	}
	return lo, hi
}

func TestLighting_Variants(t *testing.T) {
	l := NewLighting(0, 0)
	tests := []struct {
		name  string
		apply func(image.Image) (*image.RGBA, error)
	}{
		{"equalize", l.Equalize},
		{"clahe", l.CLAHE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := lowContrast(image.Rect(0, 0, 64, 64))
			dst, err := tt.apply(src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if dst.Bounds() != src.Bounds() {
				t.Fatalf("bounds changed: %v", dst.Bounds())
			}
			lo, hi := spread(dst)
			// Input spans 100..109 on every channel.
			if int(hi)-int(lo) <= 9 {
				t.Errorf("expected grayscale output with wider range, got %d..%d", lo, hi)
			}
		})
	}
}

func TestLighting_KeepsOrigin(t *testing.T) {
	src := lowContrast(image.Rect(10, 20, 50, 60))
	dst, err := NewLighting(DefaultClipLimit, DefaultTileGrid).Equalize(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Bounds() != src.Bounds() {
		t.Errorf("expected bounds %v, got %v", src.Bounds(), dst.Bounds())
	}
}

func TestLighting_EmptyImage(t *testing.T) {
	if _, err := NewLighting(0, 0).CLAHE(image.NewRGBA(image.Rect(0, 0, 0, 0))); err == nil {
		t.Error("expected error for empty image")
	}
}

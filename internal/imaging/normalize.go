// Package imaging turns raw capture bytes into the canonical pixel buffer used
// by face detection.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Canonical buffer bounds. Larger captures are downscaled, smaller ones are kept.
const (
	MaxWidth  = 800
	MaxHeight = 600
)

var (
	// ErrEmptyImage is returned for zero-length input.
	ErrEmptyImage = errors.New("empty image")
	// ErrDecode is returned when the bytes are not a decodable image.
	ErrDecode = errors.New("cannot decode image")
)

// Normalize decodes raw image bytes (optionally base64 or data-URL wrapped) into
// an RGBA buffer no larger than MaxWidth x MaxHeight, preserving aspect ratio.
func Normalize(data []byte) (*image.RGBA, error) {
	img, _, err := NormalizeScaled(data)
	return img, err
}

// NormalizeScaled is Normalize that also reports the scale factor applied to
// the decoded image (1 when it already fit).
func NormalizeScaled(data []byte) (*image.RGBA, float64, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, 0, ErrEmptyImage
	}

	raw := unwrapBase64(data)
	if len(raw) == 0 {
		return nil, 0, ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Bounds().Empty() {
		return nil, 0, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}

	out := Fit(img, MaxWidth, MaxHeight)
	return out, float64(out.Bounds().Dx()) / float64(img.Bounds().Dx()), nil
}

// unwrapBase64 strips a data URL prefix and base64-decodes the payload when the
// input is not already a binary image. Unrecognized input is returned as-is so
// that the decoder reports the failure.
func unwrapBase64(data []byte) []byte {
	if hasImageMagic(data) {
		return data
	}

	s := strings.TrimSpace(string(data))
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(s); err == nil {
			return decoded
		}
	}
	return data
}

// hasImageMagic reports whether data starts with the signature of a supported format.
func hasImageMagic(data []byte) bool {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF: // JPEG
		return true
	case len(data) >= 4 && data[0] == 0x89 && data[1] == 'P' && data[2] == 'N' && data[3] == 'G':
		return true
	case len(data) >= 4 && string(data[:4]) == "GIF8":
		return true
	case len(data) >= 2 && data[0] == 'B' && data[1] == 'M':
		return true
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return true
	}
	return false
}

// Fit returns an RGBA copy of img scaled down to fit within maxW x maxH.
// Images already within bounds are copied at their original size.
func Fit(img image.Image, maxW, maxH int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := 1.0
	if w > maxW || h > maxH {
		scale = min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	}
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	if scale == 1.0 {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Scale resizes img by factor using bilinear interpolation.
func Scale(img image.Image, factor float64) *image.RGBA {
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*factor))
	h := max(1, int(float64(b.Dy())*factor))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Crop copies the part of img inside r (clipped to img bounds) into a new
// buffer whose origin is (0, 0).
func Crop(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// EncodeJPEG encodes img as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Package biometric implements the face verification pipeline: locating faces
// in a normalized capture, encoding the primary face into a fixed-length
// vector, persisting that vector, and matching two vectors.
package biometric

import (
	"image"
	"math"
	"slices"
)

// Dim is the fixed length of every face encoding.
const Dim = 128

// Encoding is a face feature vector. It is treated as immutable once produced.
type Encoding []float64

// Valid reports whether e has the fixed dimension, only finite values, and at
// least one non-zero component.
func (e Encoding) Valid() bool {
	if len(e) != Dim {
		return false
	}
	return usable(e)
}

// usable checks finiteness and non-zero norm regardless of length.
func usable(e Encoding) bool {
	if len(e) == 0 {
		return false
	}
	nonZero := false
	for _, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v != 0 {
			nonZero = true
		}
	}
	return nonZero
}

// Float32 converts the encoding for vector indexes that work in float32.
func (e Encoding) Float32() []float32 {
	out := make([]float32, len(e))
	for i, v := range e {
		out[i] = float32(v)
	}
	return out
}

// Clone returns a copy that the caller may modify.
func (e Encoding) Clone() Encoding {
	return slices.Clone(e)
}

// area returns the pixel area of r.
func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// SortLargestFirst orders candidate boxes by area, largest first.
func SortLargestFirst(boxes []image.Rectangle) {
	slices.SortStableFunc(boxes, func(a, b image.Rectangle) int {
		return area(b) - area(a)
	})
}

// Primary returns the largest candidate box.
func Primary(boxes []image.Rectangle) (image.Rectangle, bool) {
	if len(boxes) == 0 {
		return image.Rectangle{}, false
	}
	best := boxes[0]
	for _, b := range boxes[1:] {
		if area(b) > area(best) {
			best = b
		}
	}
	return best, true
}

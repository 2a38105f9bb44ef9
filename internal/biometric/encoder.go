package biometric

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
)

// Embedder turns one face region into a feature vector of length Dim.
type Embedder interface {
	Embed(ctx context.Context, img image.Image, face image.Rectangle) ([]float64, error)
}

// EncoderOptions tunes the encoding strategy.
type EncoderOptions struct {
	Jitters        int     // embedding passes averaged per variant
	FinalJitters   int     // passes for the last-resort attempt
	AmbiguityRatio float64 // second face at least this share of the largest is ambiguous in strict mode
}

// DefaultEncoderOptions returns the production tuning.
func DefaultEncoderOptions() EncoderOptions {
	return EncoderOptions{
		Jitters:        5,
		FinalJitters:   10,
		AmbiguityRatio: 0.8,
	}
}

// Encoder produces one encoding for the primary face of a normalized capture.
type Encoder struct {
	locator  *Locator
	embedder Embedder
	final    Detector
	opts     EncoderOptions
}

// NewEncoder creates an encoder. final is the strongest available detector,
// used once with FinalJitters after every variant has failed; it may be nil.
func NewEncoder(locator *Locator, embedder Embedder, final Detector, opts EncoderOptions) *Encoder {
	defaults := DefaultEncoderOptions()
	if opts.Jitters < 1 {
		opts.Jitters = defaults.Jitters
	}
	if opts.FinalJitters < 1 {
		opts.FinalJitters = defaults.FinalJitters
	}
	if opts.AmbiguityRatio <= 0 {
		opts.AmbiguityRatio = defaults.AmbiguityRatio
	}
	return &Encoder{locator: locator, embedder: embedder, final: final, opts: opts}
}

type variant struct {
	name  string
	build func(image.Image) (*image.RGBA, error)
}

// variants lists the lighting variants tried in order. Without a lighting
// normalizer only the original capture is used.
func (e *Encoder) variants() []variant {
	vs := []variant{
		{"original", func(img image.Image) (*image.RGBA, error) { return img.(*image.RGBA), nil }},
	}
	if l := e.locator.lighting; l != nil {
		vs = append(vs, variant{"equalized", l.Equalize}, variant{"clahe", l.CLAHE})
	}
	return vs
}

// Encode returns the encoding of the largest face in img.
func (e *Encoder) Encode(ctx context.Context, img *image.RGBA) (Encoding, error) {
	return e.encode(ctx, img, false)
}

// EncodeStrict is Encode for enrollment captures: several faces of similar size
// are rejected as ambiguous instead of picking the largest.
func (e *Encoder) EncodeStrict(ctx context.Context, img *image.RGBA) (Encoding, error) {
	return e.encode(ctx, img, true)
}

// EncodeBox encodes a known face region, skipping detection.
func (e *Encoder) EncodeBox(ctx context.Context, img *image.RGBA, box image.Rectangle) (Encoding, error) {
	if err := validateBuffer(img); err != nil {
		return nil, err
	}
	box = box.Canon().Intersect(img.Bounds())
	if box.Empty() {
		return nil, newError(KindDetection, ReasonNoFace, fmt.Errorf("face box outside image"))
	}
	enc, err := e.jittered(ctx, img, box, e.opts.Jitters)
	if err != nil {
		return nil, encodingError(ctx, err)
	}
	return enc, nil
}

func (e *Encoder) encode(ctx context.Context, img *image.RGBA, strict bool) (Encoding, error) {
	if err := validateBuffer(img); err != nil {
		return nil, err
	}

	var lastErr error
	for _, v := range e.variants() {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}
		candidate, err := v.build(img)
		if err != nil {
			log.Printf("WARNING: building %s variant failed: %v", v.name, err)
			continue
		}
		boxes, err := e.locator.Locate(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if len(boxes) == 0 {
			log.Printf("WARNING: no faces detected in %s variant", v.name)
			continue
		}
		if strict && ambiguous(boxes, e.opts.AmbiguityRatio) {
			return nil, newError(KindDetection, ReasonAmbiguousFaces,
				fmt.Errorf("%d faces of similar size in capture", len(boxes)))
		}
		face, _ := Primary(boxes)
		enc, err := e.jittered(ctx, candidate, face, e.opts.Jitters)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, timeoutError(ctxErr)
			}
			log.Printf("WARNING: encoding %s variant failed: %v", v.name, err)
			lastErr = err
			continue
		}
		return enc, nil
	}

	if e.final != nil {
		enc, err := e.finalAttempt(ctx, img, strict)
		if err == nil {
			return enc, nil
		}
		var be *Error
		if errors.As(err, &be) && (be.Reason == ReasonAmbiguousFaces || be.Reason == ReasonTimeout) {
			return nil, err
		}
		lastErr = err
	}

	if err := ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}
	if lastErr == nil {
		return nil, newError(KindDetection, ReasonNoFace, nil)
	}
	return nil, encodingError(ctx, lastErr)
}

func (e *Encoder) finalAttempt(ctx context.Context, img *image.RGBA, strict bool) (Encoding, error) {
	boxes, err := e.final.Detect(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, timeoutError(ctxErr)
		}
		log.Printf("WARNING: final %s detection failed: %v", e.final.Name(), err)
		return nil, newError(KindDetection, ReasonNoFace, err)
	}
	boxes = clipBoxes(boxes, img.Bounds())
	if len(boxes) == 0 {
		return nil, newError(KindDetection, ReasonNoFace, nil)
	}
	SortLargestFirst(boxes)
	if strict && ambiguous(boxes, e.opts.AmbiguityRatio) {
		return nil, newError(KindDetection, ReasonAmbiguousFaces,
			fmt.Errorf("%d faces of similar size in capture", len(boxes)))
	}
	face, _ := Primary(boxes)
	enc, err := e.jittered(ctx, img, face, e.opts.FinalJitters)
	if err != nil {
		return nil, encodingError(ctx, err)
	}
	return enc, nil
}

// jittered averages n embeddings of slightly shifted and scaled crops of box.
// The offsets are fixed, so the result is deterministic for a deterministic
// embedder.
func (e *Encoder) jittered(ctx context.Context, img image.Image, box image.Rectangle, n int) (Encoding, error) {
	n = max(1, n)
	sum := make([]float64, Dim)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.embedder.Embed(ctx, img, jitterBox(box, i, img.Bounds()))
		if err != nil {
			return nil, fmt.Errorf("embed sample %d: %w", i, err)
		}
		if len(vec) != Dim {
			return nil, newError(KindEncoding, ReasonDimensionMismatch,
				fmt.Errorf("embedder returned %d values, want %d", len(vec), Dim))
		}
		for j, v := range vec {
			sum[j] += v
		}
	}

	enc := make(Encoding, Dim)
	for j := range sum {
		enc[j] = sum[j] / float64(n)
	}
	if !enc.Valid() {
		return nil, newError(KindEncoding, ReasonEncodingFailed, fmt.Errorf("degenerate encoding"))
	}
	return enc, nil
}

// jitterOffsets are (dx, dy, scale) relative to the box size. The first entry
// is the unmodified box.
var jitterOffsets = [...][3]float64{
	{0, 0, 1},
	{-0.04, 0, 1},
	{0.04, 0, 1},
	{0, -0.04, 1},
	{0, 0.04, 1},
	{0, 0, 0.94},
	{0, 0, 1.06},
	{-0.03, -0.03, 1.03},
	{0.03, 0.03, 0.97},
	{0.03, -0.03, 1},
	{-0.03, 0.03, 1},
	{0, 0, 1.1},
}

func jitterBox(box image.Rectangle, i int, bounds image.Rectangle) image.Rectangle {
	o := jitterOffsets[i%len(jitterOffsets)]
	w, h := float64(box.Dx()), float64(box.Dy())
	cx := float64(box.Min.X) + w/2 + o[0]*w
	cy := float64(box.Min.Y) + h/2 + o[1]*h
	nw, nh := w*o[2], h*o[2]
	r := image.Rect(int(cx-nw/2), int(cy-nh/2), int(cx+nw/2), int(cy+nh/2)).Intersect(bounds)
	if r.Empty() {
		return box
	}
	return r
}

// ambiguous reports whether the runner-up face is close in size to the largest.
func ambiguous(boxes []image.Rectangle, ratio float64) bool {
	if len(boxes) < 2 {
		return false
	}
	return float64(area(boxes[1])) >= ratio*float64(area(boxes[0]))
}

func validateBuffer(img *image.RGBA) error {
	if img == nil || img.Bounds().Empty() {
		return newError(KindImage, ReasonInvalidImage, fmt.Errorf("empty pixel buffer"))
	}
	b := img.Bounds()
	if len(img.Pix) < (b.Dy()-1)*img.Stride+b.Dx()*4 {
		return newError(KindImage, ReasonInvalidImage,
			fmt.Errorf("pixel buffer too short for %dx%d", b.Dx(), b.Dy()))
	}
	return nil
}

func encodingError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return timeoutError(ctxErr)
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return newError(KindEncoding, ReasonEncodingFailed, err)
}

package biometric

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// FaceEncoder is implemented by *Encoder.
type FaceEncoder interface {
	Encode(ctx context.Context, img *image.RGBA) (Encoding, error)
	EncodeStrict(ctx context.Context, img *image.RGBA) (Encoding, error)
}

// BoxEncoder is implemented by encoders that can encode a known face region.
type BoxEncoder interface {
	EncodeBox(ctx context.Context, img *image.RGBA, box image.Rectangle) (Encoding, error)
}

// Capture is a processed image together with its encoding.
type Capture struct {
	Encoding Encoding
	Image    *image.RGBA
}

// Outcome is the caller-facing result of one verification attempt.
type Outcome struct {
	Result
	Image *image.RGBA `json:"-"`
}

// Pipeline runs normalization, detection, encoding and matching on a bounded
// worker pool.
type Pipeline struct {
	encoder FaceEncoder
	pool    *Pool
}

// NewPipeline creates a pipeline. A nil pool gets a default one.
func NewPipeline(encoder FaceEncoder, pool *Pool) *Pipeline {
	if pool == nil {
		pool = NewPool(0, 0)
	}
	return &Pipeline{encoder: encoder, pool: pool}
}

// Capture normalizes raw and encodes its primary face. strict rejects captures
// with several faces of similar size.
func (p *Pipeline) Capture(ctx context.Context, raw []byte, strict bool) (*Capture, error) {
	return Run(ctx, p.pool, func(ctx context.Context) (*Capture, error) {
		img, err := imaging.Normalize(raw)
		if err != nil {
			return nil, imageError(err)
		}
		encode := p.encoder.Encode
		if strict {
			encode = p.encoder.EncodeStrict
		}
		enc, err := encode(ctx, img)
		if err != nil {
			return nil, err
		}
		return &Capture{Encoding: enc, Image: img}, nil
	})
}

// CaptureBox normalizes raw and encodes the face inside box, given in the
// pixel coordinates of the original image. Detection is skipped.
func (p *Pipeline) CaptureBox(ctx context.Context, raw []byte, box image.Rectangle) (*Capture, error) {
	be, ok := p.encoder.(BoxEncoder)
	if !ok {
		return nil, newError(KindEncoding, ReasonEncodingFailed, fmt.Errorf("encoder cannot encode face regions"))
	}
	return Run(ctx, p.pool, func(ctx context.Context) (*Capture, error) {
		img, scale, err := imaging.NormalizeScaled(raw)
		if err != nil {
			return nil, imageError(err)
		}
		enc, err := be.EncodeBox(ctx, img, scaleBox(box, scale))
		if err != nil {
			return nil, err
		}
		return &Capture{Encoding: enc, Image: img}, nil
	})
}

func scaleBox(box image.Rectangle, scale float64) image.Rectangle {
	if scale == 1 {
		return box
	}
	return image.Rect(
		int(float64(box.Min.X)*scale), int(float64(box.Min.Y)*scale),
		int(float64(box.Max.X)*scale), int(float64(box.Max.Y)*scale),
	)
}

// Verify matches a live capture against a stored encoding. Every failure is
// folded into the returned outcome with Matched false.
func (p *Pipeline) Verify(ctx context.Context, stored string, raw []byte, s MatchSettings) Outcome {
	reference, err := DecodeString(stored)
	if err != nil {
		log.Printf("WARNING: stored face encoding unusable: %v", err)
		return Outcome{Result: Result{Threshold: s.Threshold, Reason: ReasonOf(err)}}
	}
	return p.VerifyEncoding(ctx, reference, raw, s)
}

// VerifyEncoding is Verify with an already decoded reference.
func (p *Pipeline) VerifyEncoding(ctx context.Context, reference Encoding, raw []byte, s MatchSettings) Outcome {
	capture, err := p.Capture(ctx, raw, false)
	if err != nil {
		log.Printf("WARNING: face capture failed: %v", err)
		return Outcome{Result: Result{Threshold: s.Threshold, Reason: ReasonOf(err)}}
	}

	res := Compare(reference, capture.Encoding, s)
	log.Printf("Face comparison - distance: %.4f, confidence: %.2f%%, match: %t, threshold: %.4f",
		res.Distance, res.Confidence, res.Matched, res.Threshold)
	return Outcome{Result: res, Image: capture.Image}
}

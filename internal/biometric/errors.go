package biometric

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/imaging"
)

// Kind groups pipeline failures by stage.
type Kind string

// Failure kinds, one per pipeline stage.
const (
	KindImage     Kind = "image"
	KindDetection Kind = "detection"
	KindEncoding  Kind = "encoding"
	KindMatch     Kind = "match"
	KindConfig    Kind = "config"
)

// Reason is the machine-readable code attached to every verification outcome.
type Reason string

// Reason codes.
const (
	ReasonMatched           Reason = "matched"
	ReasonBelowThreshold    Reason = "below_threshold"
	ReasonEmptyImage        Reason = "empty_image"
	ReasonImageDecode       Reason = "image_decode"
	ReasonInvalidImage      Reason = "invalid_image"
	ReasonNoFace            Reason = "no_face_detected"
	ReasonAmbiguousFaces    Reason = "ambiguous_faces"
	ReasonTimeout           Reason = "timeout"
	ReasonEncodingFailed    Reason = "encoding_failed"
	ReasonMissingEncoding   Reason = "missing_encoding"
	ReasonCorruptEncoding   Reason = "corrupt_encoding"
	ReasonDimensionMismatch Reason = "dimension_mismatch"
	ReasonMatchError        Reason = "match_error"
	ReasonInvalidSettings   Reason = "invalid_settings"
)

// Sentinels for errors.Is checks against *Error values.
var (
	ErrEmptyImage      = errors.New("empty image")
	ErrImageDecode     = errors.New("image decode failed")
	ErrInvalidImage    = errors.New("invalid image buffer")
	ErrNoFaceDetected  = errors.New("no face detected")
	ErrEncodingFailed  = errors.New("face encoding failed")
	ErrCorruptEncoding = errors.New("corrupt face encoding")
)

// Error is the single error type crossing the pipeline boundary.
type Error struct {
	Kind   Kind
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error (%s): %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s error (%s)", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps reason codes onto the exported sentinels. A timeout counts as no face
// detected so callers never hang on or special-case a slow capture.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrEmptyImage:
		return e.Reason == ReasonEmptyImage
	case ErrImageDecode:
		return e.Reason == ReasonImageDecode
	case ErrInvalidImage:
		return e.Reason == ReasonInvalidImage
	case ErrNoFaceDetected:
		return e.Reason == ReasonNoFace || e.Reason == ReasonTimeout || e.Reason == ReasonAmbiguousFaces
	case ErrEncodingFailed:
		return e.Kind == KindEncoding
	case ErrCorruptEncoding:
		return e.Reason == ReasonCorruptEncoding || e.Reason == ReasonMissingEncoding
	}
	return false
}

func newError(kind Kind, reason Reason, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func timeoutError(err error) *Error {
	return newError(KindDetection, ReasonTimeout, err)
}

// imageError converts a normalizer failure into a pipeline error.
func imageError(err error) *Error {
	switch {
	case errors.Is(err, imaging.ErrEmptyImage):
		return newError(KindImage, ReasonEmptyImage, err)
	case errors.Is(err, imaging.ErrDecode):
		return newError(KindImage, ReasonImageDecode, err)
	}
	return newError(KindImage, ReasonInvalidImage, err)
}

// ReasonOf extracts the reason code from any error produced by this package.
// Context errors map to ReasonTimeout, anything unknown to ReasonEncodingFailed.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonTimeout
	}
	return ReasonEncodingFailed
}

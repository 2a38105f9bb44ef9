package attendance

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/biometric"
)

// Kind groups business outcomes that reject a request.
type Kind string

const (
	KindState        Kind = "state"
	KindVerification Kind = "verification"
	KindEnrollment   Kind = "enrollment"
	KindInput        Kind = "input"
	KindLocation     Kind = "location"
	KindConfig       Kind = "config"
)

// Code identifies the rejection for callers.
type Code string

const (
	CodeDuplicateCheckIn   Code = "duplicate_check_in"
	CodeDuplicateCheckOut  Code = "duplicate_check_out"
	CodeNoCheckInFound     Code = "no_check_in_found"
	CodeEnrollmentRequired Code = "enrollment_required"
	CodeMissingImage       Code = "missing_image"
	CodeVerificationFailed Code = "verification_failed"
	CodeEnrollmentFailed   Code = "enrollment_failed"
	CodeEmployeeNotFound   Code = "employee_not_found"
	CodeEmployeeInactive   Code = "employee_inactive"
	CodeOutsideGeofence    Code = "outside_geofence"
	CodeLocationRequired   Code = "location_required"
	CodeInvalidSettings    Code = "invalid_settings"
)

// ReasonAlreadyEnrolled rejects an enrollment whose face matches another employee.
const ReasonAlreadyEnrolled biometric.Reason = "already_enrolled_elsewhere"

// Sentinels for errors.Is checks against *Error values.
var (
	ErrDuplicateCheckIn   = errors.New("already checked in today")
	ErrDuplicateCheckOut  = errors.New("already checked out today")
	ErrNoCheckInFound     = errors.New("no check-in found for today")
	ErrEnrollmentRequired = errors.New("face enrollment required")
	ErrMissingImage       = errors.New("face image required")
	ErrVerificationFailed = errors.New("face verification failed")
	ErrEnrollmentFailed   = errors.New("face enrollment failed")
	ErrEmployeeNotFound   = errors.New("employee not found")
	ErrEmployeeInactive   = errors.New("employee inactive")
	ErrOutsideGeofence    = errors.New("outside allowed location")
	ErrLocationRequired   = errors.New("location required")
	ErrInvalidSettings    = errors.New("invalid attendance settings")
)

var sentinels = map[Code]error{
	CodeDuplicateCheckIn:   ErrDuplicateCheckIn,
	CodeDuplicateCheckOut:  ErrDuplicateCheckOut,
	CodeNoCheckInFound:     ErrNoCheckInFound,
	CodeEnrollmentRequired: ErrEnrollmentRequired,
	CodeMissingImage:       ErrMissingImage,
	CodeVerificationFailed: ErrVerificationFailed,
	CodeEnrollmentFailed:   ErrEnrollmentFailed,
	CodeEmployeeNotFound:   ErrEmployeeNotFound,
	CodeEmployeeInactive:   ErrEmployeeInactive,
	CodeOutsideGeofence:    ErrOutsideGeofence,
	CodeLocationRequired:   ErrLocationRequired,
	CodeInvalidSettings:    ErrInvalidSettings,
}

// Error is a rejected attendance or enrollment request. Verification and
// enrollment failures carry the pipeline reason and, when a comparison ran,
// its result.
type Error struct {
	Kind    Kind
	Code    Code
	Reason  biometric.Reason
	Outcome *biometric.Result
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		if s, ok := sentinels[e.Code]; ok {
			msg = s.Error()
		} else {
			msg = string(e.Code)
		}
	}
	switch {
	case e.Outcome != nil:
		return fmt.Sprintf("%s (%s): confidence %.2f%%, distance %.4f, threshold %.4f",
			msg, e.Outcome.Reason, e.Outcome.Confidence, e.Outcome.Distance, e.Outcome.Threshold)
	case e.Reason != "":
		return fmt.Sprintf("%s (%s)", msg, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the code sentinel. A capture that found no usable face also
// matches biometric.ErrNoFaceDetected.
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Code]; ok && s == target {
		return true
	}
	if target == biometric.ErrNoFaceDetected {
		switch e.Reason {
		case biometric.ReasonNoFace, biometric.ReasonTimeout, biometric.ReasonAmbiguousFaces:
			return true
		}
	}
	return false
}

func stateError(code Code) *Error {
	return &Error{Kind: KindState, Code: code}
}

func inputError(code Code) *Error {
	return &Error{Kind: KindInput, Code: code}
}

func verificationError(res biometric.Result) *Error {
	return &Error{Kind: KindVerification, Code: CodeVerificationFailed, Reason: res.Reason, Outcome: &res}
}

func enrollmentError(reason biometric.Reason, err error) *Error {
	return &Error{Kind: KindEnrollment, Code: CodeEnrollmentFailed, Reason: reason, Err: err}
}

// CodeOf returns the code of an attendance error, or "" for other errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

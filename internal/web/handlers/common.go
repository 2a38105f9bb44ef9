package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/biometric"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorResponse is the body of a rejected attendance or enrollment request.
type errorResponse struct {
	Error        string            `json:"error"`
	Code         attendance.Code   `json:"code"`
	Reason       biometric.Reason  `json:"reason_code,omitempty"`
	Verification *biometric.Result `json:"verification,omitempty"`
}

// statusFor maps an attendance rejection to an HTTP status.
func statusFor(e *attendance.Error) int {
	switch e.Code {
	case attendance.CodeEmployeeNotFound:
		return http.StatusNotFound
	case attendance.CodeEmployeeInactive, attendance.CodeVerificationFailed,
		attendance.CodeOutsideGeofence, attendance.CodeLocationRequired:
		return http.StatusForbidden
	case attendance.CodeDuplicateCheckIn, attendance.CodeDuplicateCheckOut,
		attendance.CodeNoCheckInFound, attendance.CodeEnrollmentRequired:
		return http.StatusConflict
	case attendance.CodeEnrollmentFailed:
		return http.StatusUnprocessableEntity
	case attendance.CodeInvalidSettings:
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// respondAttendanceError writes an attendance rejection with its code, or a
// generic 500 for infrastructure failures.
func respondAttendanceError(w http.ResponseWriter, err error) {
	var e *attendance.Error
	if !errors.As(err, &e) {
		log.Printf("ERROR: attendance request failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, statusFor(e), errorResponse{
		Error:        e.Error(),
		Code:         e.Code,
		Reason:       e.Reason,
		Verification: e.Outcome,
	})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

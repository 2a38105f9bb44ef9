package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceHandler handles check-in, check-out and status endpoints.
type AttendanceHandler struct {
	manager *attendance.Manager
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(m *attendance.Manager) *AttendanceHandler {
	return &AttendanceHandler{manager: m}
}

// CheckIn handles POST /attendance/check-in.
func (h *AttendanceHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.manager.SubmitCheckIn)
}

// CheckOut handles POST /attendance/check-out.
func (h *AttendanceHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.manager.SubmitCheckOut)
}

type submitFunc func(ctx context.Context, sub attendance.Submission) (*attendance.Receipt, error)

func (h *AttendanceHandler) submit(w http.ResponseWriter, r *http.Request, fn submitFunc) {
	sub, err := parseSubmission(w, r)
	if err != nil {
		respondError(w, requestErrorStatus(err), err.Error())
		return
	}

	receipt, err := fn(r.Context(), sub)
	if err != nil {
		log.Printf("Attendance submission for %s rejected: %v", sanitizeForLog(sub.EmployeeID), err)
		respondAttendanceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// Today handles GET /attendance/today/{employeeId}.
func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	status, err := h.manager.Today(r.Context(), chi.URLParam(r, "employeeId"))
	if err != nil {
		respondAttendanceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Roster handles GET /attendance?date=YYYY-MM-DD.
func (h *AttendanceHandler) Roster(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(database.DateLayout, date); err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}
	roster, err := h.manager.Roster(r.Context(), date)
	if err != nil {
		respondAttendanceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, roster)
}

// Events handles GET /attendance/events as Server-Sent Events.
func (h *AttendanceHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r, h.manager.Events())
}

// AuditImage handles GET /attendance/audit/{date}/{file}.
func (h *AttendanceHandler) AuditImage(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "date") + "/" + chi.URLParam(r, "file")
	path, ok := h.manager.Audit().Path(ref)
	if !ok {
		respondError(w, http.StatusNotFound, "audit image not found")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, path)
}

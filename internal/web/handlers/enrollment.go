package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-attendance/internal/attendance"
)

// EnrollmentHandler handles face enrollment endpoints.
type EnrollmentHandler struct {
	manager *attendance.Manager
}

// NewEnrollmentHandler creates a new enrollment handler.
func NewEnrollmentHandler(m *attendance.Manager) *EnrollmentHandler {
	return &EnrollmentHandler{manager: m}
}

// Enroll handles POST /employees/{employeeId}/face. The image is sent as a
// multipart face_image file or a JSON {"image": "<base64>"} body.
func (h *EnrollmentHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	img, err := readImage(w, r)
	if err != nil {
		respondError(w, requestErrorStatus(err), err.Error())
		return
	}

	enrollment, err := h.manager.EnrollFace(r.Context(), chi.URLParam(r, "employeeId"), img)
	if err != nil {
		respondAttendanceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, enrollment)
}

// Unenroll handles DELETE /employees/{employeeId}/face.
func (h *EnrollmentHandler) Unenroll(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RemoveEnrollment(r.Context(), chi.URLParam(r, "employeeId")); err != nil {
		respondAttendanceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if isMultipart(r) {
		if err := parseMultipart(w, r); err != nil {
			return nil, err
		}
		return readFormImage(r)
	}

	var req struct {
		Image string `json:"image"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil {
		return nil, err
	}
	return []byte(req.Image), nil
}

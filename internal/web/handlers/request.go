package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// errRequestTooLarge is returned for bodies or images above the upload limits.
var errRequestTooLarge = errors.New("request body too large")

// requestErrorStatus maps a request parsing error to its HTTP status.
func requestErrorStatus(err error) int {
	if errors.Is(err, errRequestTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// captureRequest is the JSON form of a capture submission. Image is base64 or
// a data URL.
type captureRequest struct {
	EmployeeID string   `json:"employee_id"`
	Image      string   `json:"image"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Notes      string   `json:"notes"`
}

// parseSubmission reads a capture either as multipart form data (file field
// face_image) or as a JSON body.
func parseSubmission(w http.ResponseWriter, r *http.Request) (attendance.Submission, error) {
	if isMultipart(r) {
		return parseMultipartSubmission(w, r)
	}

	var req captureRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		return attendance.Submission{}, err
	}
	loc, err := location(req.Latitude, req.Longitude)
	if err != nil {
		return attendance.Submission{}, err
	}
	return attendance.Submission{
		EmployeeID: req.EmployeeID,
		Image:      []byte(req.Image),
		Location:   loc,
		Notes:      req.Notes,
	}, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// decodeJSONBody decodes a JSON body of at most MaxUploadSize bytes.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errRequestTooLarge
		}
		return errors.New(errInvalidRequestBody)
	}
	return nil
}

// parseMultipart parses a multipart body of at most MaxRequestSize bytes.
func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	if r.ContentLength > constants.MaxRequestSize {
		return errRequestTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errRequestTooLarge
		}
		return errors.New("failed to parse multipart form")
	}
	return nil
}

// readFormImage returns the face_image file of a parsed multipart form, or
// nil when the field is absent.
func readFormImage(r *http.Request) ([]byte, error) {
	file, header, err := r.FormFile("face_image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New("failed to read face_image")
	}
	defer file.Close()

	if header.Size > constants.MaxUploadSize {
		return nil, errRequestTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(file, constants.MaxUploadSize+1))
	if err != nil {
		return nil, errors.New("failed to read face_image")
	}
	if len(data) > constants.MaxUploadSize {
		return nil, errRequestTooLarge
	}
	return data, nil
}

func parseMultipartSubmission(w http.ResponseWriter, r *http.Request) (attendance.Submission, error) {
	if err := parseMultipart(w, r); err != nil {
		return attendance.Submission{}, err
	}

	sub := attendance.Submission{
		EmployeeID: r.FormValue("employee_id"),
		Notes:      r.FormValue("notes"),
	}

	// A missing file is reported by the manager as missing_image.
	var err error
	if sub.Image, err = readFormImage(r); err != nil {
		return sub, err
	}

	lat, err := formFloat(r, "latitude")
	if err != nil {
		return sub, err
	}
	lng, err := formFloat(r, "longitude")
	if err != nil {
		return sub, err
	}
	if sub.Location, err = location(lat, lng); err != nil {
		return sub, err
	}
	return sub, nil
}

func formFloat(r *http.Request, key string) (*float64, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s", key)
	}
	return &f, nil
}

func location(lat, lng *float64) (*database.Location, error) {
	switch {
	case lat == nil && lng == nil:
		return nil, nil
	case lat == nil || lng == nil:
		return nil, errors.New("latitude and longitude must be given together")
	}
	return &database.Location{Lat: *lat, Lng: *lng}, nil
}

// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Attendance constants
const (
	// HoursPrecision is the number of decimals hours_worked is rounded to
	HoursPrecision = 2

	// EarthRadiusMeters is the mean Earth radius used by the geofence
	EarthRadiusMeters = 6371000.0

	// AuditJPEGQuality is the JPEG quality of stored audit captures
	AuditJPEGQuality = 90
)

// Processing constants
const (
	// EnrollConcurrency is the default number of parallel enrollments in enroll-dir
	EnrollConcurrency = 2

	// IndexSaveInterval is the number of enrollments processed before saving the index file
	IndexSaveInterval = 50
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// HTTP constants
const (
	// MaxUploadSize is the maximum face image upload size in bytes (10MB)
	MaxUploadSize = 10 << 20

	// MaxRequestSize caps a whole multipart request: the image plus form fields
	MaxRequestSize = MaxUploadSize + 1<<20

	// ShutdownTimeoutSeconds is how long the server waits for in-flight requests
	ShutdownTimeoutSeconds = 30
)

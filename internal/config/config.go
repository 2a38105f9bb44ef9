package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalidSettings is wrapped by every validation failure of VerificationSettings.
var ErrInvalidSettings = errors.New("invalid verification settings")

type Config struct {
	Database     DatabaseConfig
	Schedule     ScheduleConfig
	Face         FaceConfig
	Pipeline     PipelineConfig
	Audit        AuditConfig
	Web          WebConfig
	Office       OfficeConfig
	Location     *time.Location
	Verification VerificationSettings
}

type DatabaseConfig struct {
	Driver              string // "postgres" (default) or "sqlite"
	URL                 string // PostgreSQL connection URL
	SQLitePath          string // defaults to ./data/attendance.db
	MaxOpenConns        int    // Maximum open connections (default 25)
	MaxIdleConns        int    // Maximum idle connections (default 5)
	EnrollmentIndexPath string // Path to persist the enrollment HNSW index (optional)
}

// ScheduleConfig points at the external shift scheduling database.
type ScheduleConfig struct {
	DatabaseURL string // MariaDB DSN, e.g. hr:hr@tcp(mariadb:3306)/scheduling?parseTime=true
}

type FaceConfig struct {
	ModelsDir   string // dlib models (shape predictor, resnet, mmod)
	CascadePath string // haarcascade_frontalface_default.xml
}

type PipelineConfig struct {
	Workers int           // defaults to runtime.NumCPU()
	Timeout time.Duration // upper budget for detection and embedding of one capture
}

type AuditConfig struct {
	Dir string // empty disables writing audit captures to disk
}

type WebConfig struct {
	AllowedOrigins []string
}

// OfficeConfig is the geofence centre used when location tracking is enabled.
type OfficeConfig struct {
	Lat float64
	Lng float64
	Set bool
}

// LocationSettings mirrors the geofence part of the attendance settings.
type LocationSettings struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Required     bool    `json:"required" yaml:"required"`
	RadiusMeters float64 `json:"radius_meters" yaml:"radius_meters"`
}

// VerificationSettings is the read-only configuration the matcher and the
// attendance manager receive on every call.
type VerificationSettings struct {
	Threshold             float64          `json:"threshold" yaml:"threshold"`
	CosineWeight          float64          `json:"cosine_weight" yaml:"cosine_weight"`
	EuclideanWeight       float64          `json:"euclidean_weight" yaml:"euclidean_weight"`
	HighConfidenceCutoff  float64          `json:"high_confidence_cutoff" yaml:"high_confidence_cutoff"`
	TightenFactor         float64          `json:"tighten_factor" yaml:"tighten_factor"`
	GraceMinutes          int              `json:"grace_minutes" yaml:"grace_minutes"`
	EarlyDepartureMinutes int              `json:"early_departure_minutes" yaml:"early_departure_minutes"`
	PhotoRequired         bool             `json:"photo_required" yaml:"photo_required"`
	DefaultShiftStart     string           `json:"default_shift_start" yaml:"default_shift_start"`
	DefaultShiftEnd       string           `json:"default_shift_end" yaml:"default_shift_end"`
	Location              LocationSettings `json:"location" yaml:"location"`
}

// Validate checks value ranges. Every error wraps ErrInvalidSettings.
func (s VerificationSettings) Validate() error {
	if s.Threshold <= 0 || s.Threshold > 1 {
		return fmt.Errorf("%w: threshold %.3f outside (0, 1]", ErrInvalidSettings, s.Threshold)
	}
	if s.CosineWeight < 0 || s.EuclideanWeight < 0 || math.Abs(s.CosineWeight+s.EuclideanWeight-1) > 1e-9 {
		return fmt.Errorf("%w: weights %.3f/%.3f must be non-negative and sum to 1",
			ErrInvalidSettings, s.CosineWeight, s.EuclideanWeight)
	}
	if s.HighConfidenceCutoff < 0 || s.HighConfidenceCutoff > 100 {
		return fmt.Errorf("%w: high confidence cutoff %.1f outside [0, 100]", ErrInvalidSettings, s.HighConfidenceCutoff)
	}
	if s.TightenFactor <= 0 || s.TightenFactor > 1 {
		return fmt.Errorf("%w: tighten factor %.3f outside (0, 1]", ErrInvalidSettings, s.TightenFactor)
	}
	if s.GraceMinutes < 0 || s.EarlyDepartureMinutes < 0 {
		return fmt.Errorf("%w: minute windows must not be negative", ErrInvalidSettings)
	}
	if _, err := ParseClock(s.DefaultShiftStart); err != nil {
		return fmt.Errorf("%w: default shift start: %w", ErrInvalidSettings, err)
	}
	if _, err := ParseClock(s.DefaultShiftEnd); err != nil {
		return fmt.Errorf("%w: default shift end: %w", ErrInvalidSettings, err)
	}
	if s.Location.Enabled && s.Location.RadiusMeters <= 0 {
		return fmt.Errorf("%w: location radius must be positive", ErrInvalidSettings)
	}
	return nil
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On returns the clock time on the calendar day of t, in t's location.
func (c Clock) On(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, t.Location())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// DefaultVerificationSettings returns the embedded defaults.
func DefaultVerificationSettings() VerificationSettings {
	var s VerificationSettings
	if err := yaml.Unmarshal(defaultsYAML, &s); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return s
}

// LoadSettingsFile merges a YAML settings file over base.
func LoadSettingsFile(path string, base VerificationSettings) (VerificationSettings, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return base, fmt.Errorf("read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return base, fmt.Errorf("parse settings file: %w", err)
	}
	return base, nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a bool, falling back to defaultVal.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load reads the configuration from the environment. A settings file named by
// VERIFY_SETTINGS_FILE is merged over the embedded defaults before the VERIFY_*
// overrides apply.
func Load() (*Config, error) {
	settings := DefaultVerificationSettings()
	if path := os.Getenv("VERIFY_SETTINGS_FILE"); path != "" {
		var err error
		if settings, err = LoadSettingsFile(path, settings); err != nil {
			return nil, err
		}
	}
	settings.Threshold = envFloat("VERIFY_THRESHOLD", settings.Threshold)
	settings.GraceMinutes = envInt("VERIFY_GRACE_MINUTES", settings.GraceMinutes)
	settings.PhotoRequired = envBool("VERIFY_PHOTO_REQUIRED", settings.PhotoRequired)
	settings.Location.Enabled = envBool("LOCATION_TRACKING", settings.Location.Enabled)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		var err error
		if loc, err = time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
	}

	office := OfficeConfig{}
	if lat, lng := os.Getenv("OFFICE_LAT"), os.Getenv("OFFICE_LNG"); lat != "" && lng != "" {
		office = OfficeConfig{Lat: envFloat("OFFICE_LAT", 0), Lng: envFloat("OFFICE_LNG", 0), Set: true}
	}

	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}
	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "./data/attendance.db"
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:              driver,
			URL:                 os.Getenv("DATABASE_URL"),
			SQLitePath:          sqlitePath,
			MaxOpenConns:        envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:        envInt("DATABASE_MAX_IDLE_CONNS", 5),
			EnrollmentIndexPath: os.Getenv("ENROLLMENT_INDEX_PATH"),
		},
		Schedule: ScheduleConfig{
			DatabaseURL: os.Getenv("SCHEDULE_DATABASE_URL"),
		},
		Face: FaceConfig{
			ModelsDir:   os.Getenv("FACE_MODELS_DIR"),
			CascadePath: os.Getenv("FACE_CASCADE_PATH"),
		},
		Pipeline: PipelineConfig{
			Workers: envInt("PIPELINE_WORKERS", runtime.NumCPU()),
			Timeout: time.Duration(envInt("PIPELINE_TIMEOUT_SECONDS", 20)) * time.Second,
		},
		Audit: AuditConfig{
			Dir: os.Getenv("AUDIT_DIR"),
		},
		Web: WebConfig{
			AllowedOrigins: splitList(os.Getenv("WEB_ALLOWED_ORIGINS")),
		},
		Office:       office,
		Location:     loc,
		Verification: settings,
	}, nil
}

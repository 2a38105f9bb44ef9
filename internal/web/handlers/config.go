package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config  *config.Config
	manager *attendance.Manager
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config, m *attendance.Manager) *ConfigHandler {
	return &ConfigHandler{
		config:  cfg,
		manager: m,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Settings        config.VerificationSettings `json:"settings"`
	DatabaseDriver  string                      `json:"database_driver"`
	PipelineWorkers int                         `json:"pipeline_workers"`
	OfficeSet       bool                        `json:"office_set"`
	AuditEnabled    bool                        `json:"audit_enabled"`
	Timezone        string                      `json:"timezone"`
}

// Get returns the effective settings and runtime configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.manager.Settings(r.Context())
	if err != nil {
		respondAttendanceError(w, err)
		return
	}

	response := ConfigResponse{
		Settings:        settings,
		DatabaseDriver:  h.config.Database.Driver,
		PipelineWorkers: h.config.Pipeline.Workers,
		OfficeSet:       h.config.Office.Set,
		AuditEnabled:    h.manager.Audit().Enabled(),
	}
	if h.config.Location != nil {
		response.Timezone = h.config.Location.String()
	}

	respondJSON(w, http.StatusOK, response)
}

// UpdateSettings merges the JSON body over the current settings and stores them
func (h *ConfigHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.manager.Settings(r.Context())
	if err != nil && !errors.Is(err, attendance.ErrInvalidSettings) {
		respondAttendanceError(w, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := settings.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.manager.UpdateSettings(r.Context(), settings); err != nil {
		respondAttendanceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

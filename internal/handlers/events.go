package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/notification"
)

// EventHandler receives hooks from the detection and camera services.
type EventHandler struct {
	service     notification.Service
	connections Connections
	logger      zerolog.Logger
}

func NewEventHandler(service notification.Service, connections Connections, logger zerolog.Logger) *EventHandler {
	return &EventHandler{
		service:     service,
		connections: connections,
		logger:      logger.With().Str("handler", "events").Logger(),
	}
}

func (h *EventHandler) Violation(w http.ResponseWriter, r *http.Request) {
	var v notification.Violation
	if !decodeJSON(w, r, &v) {
		return
	}
	notif, err := h.service.NotifyViolation(r.Context(), v)
	if err != nil {
		writeError(w, h.logger, err, "Failed to record violation")
		return
	}
	writeJSON(w, http.StatusCreated, notif)
}

func (h *EventHandler) CameraStatus(w http.ResponseWriter, r *http.Request) {
	var camera notification.Camera
	if !decodeJSON(w, r, &camera) {
		return
	}
	notif, err := h.service.NotifyCameraStatus(r.Context(), camera)
	if err != nil {
		writeError(w, h.logger, err, "Failed to record camera status")
		return
	}
	writeJSON(w, http.StatusCreated, notif)
}

func (h *EventHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]interface{}
	if !decodeJSON(w, r, &status) {
		return
	}
	reached := h.service.NotifySystemStatus(r.Context(), status)
	writeJSON(w, http.StatusAccepted, map[string]int{"connections": reached})
}

type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *EventHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reached := h.service.BroadcastMaintenance(r.Context(), req.Enabled)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"maintenance_mode": req.Enabled,
		"connections":      reached,
	})
}

type userSessionRequest struct {
	UserID string `json:"user_id"`
}

// UserLogout closes every realtime session of a user that signed out or
// was disabled by the identity service.
func (h *EventHandler) UserLogout(w http.ResponseWriter, r *http.Request) {
	var req userSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		writeError(w, h.logger, notification.ValidationErrors{{Field: "user_id", Message: "is required"}}, "")
		return
	}
	disconnected := h.connections.DisconnectUser(userID)
	writeJSON(w, http.StatusOK, map[string]int{"disconnected": disconnected})
}

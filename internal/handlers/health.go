package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/notification"
	"github.com/stanstork/herald/internal/realtime"
)

const healthTimeout = 2 * time.Second

type HealthHandler struct {
	service     notification.Service
	connections Connections
	logger      zerolog.Logger
}

func NewHealthHandler(service notification.Service, connections Connections, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		service:     service,
		connections: connections,
		logger:      logger.With().Str("handler", "health").Logger(),
	}
}

// Check reports store reachability, live connections and channel state.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status, code, database := "ok", http.StatusOK, "ok"
	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("store ping failed")
		status, code, database = "degraded", http.StatusServiceUnavailable, "unavailable"
	}

	resp := map[string]interface{}{
		"status":    status,
		"database":  database,
		"channels":  h.service.Channels(),
		"timestamp": time.Now().UTC(),
	}
	if h.connections != nil {
		resp["connections"] = h.connections.Stats()
	}
	writeJSON(w, code, resp)
}

// Ready reports whether the store accepts queries.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Socket lists live realtime connections.
func (h *HealthHandler) Socket(w http.ResponseWriter, r *http.Request) {
	users := h.connections.ConnectedUsers()
	if users == nil {
		users = []realtime.ConnectedUser{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"connections":     h.connections.Stats(),
		"connected_users": users,
		"timestamp":       time.Now().UTC(),
	})
}

// Live returns a simple JSON status
func Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

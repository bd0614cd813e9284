package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/notification"
	"github.com/stanstork/herald/internal/realtime"
	"github.com/stanstork/herald/internal/repository"
)

// ConnectionStats reports live realtime connection counts.
type ConnectionStats interface {
	Stats() realtime.ConnectionStats
}

// Connections is the part of the realtime registry the health and event
// endpoints inspect or act on.
type Connections interface {
	ConnectionStats
	ConnectedUsers() []realtime.ConnectedUser
	DisconnectUser(userID string) int
}

type NotificationHandler struct {
	service     notification.Service
	connections ConnectionStats
	logger      zerolog.Logger
}

func NewNotificationHandler(service notification.Service, connections ConnectionStats, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service:     service,
		connections: connections,
		logger:      logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, errs := parseListFilter(r)
	if len(errs) > 0 {
		writeError(w, h.logger, errs, "")
		return
	}

	notifications, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(notifications),
		"total":         total,
		"notifications": notifications,
	})
}

func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req notification.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	notif, err := h.service.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err, "Failed to create notification")
		return
	}
	writeJSON(w, http.StatusCreated, notif)
}

func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req notification.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	notif, err := h.service.Send(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err, "Failed to send notification")
		return
	}
	writeJSON(w, http.StatusCreated, notif)
}

func (h *NotificationHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req notification.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	notif, err := h.service.Broadcast(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err, "Failed to broadcast notification")
		return
	}
	writeJSON(w, http.StatusCreated, notif)
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	notif, err := h.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to load notification")
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

func (h *NotificationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	var recipientID *string
	if raw := strings.TrimSpace(r.URL.Query().Get("recipient_id")); raw != "" {
		recipientID = &raw
	}

	notifications, err := h.service.Unread(r.Context(), recipientID)
	if err != nil {
		writeError(w, h.logger, err, "Failed to list unread notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(notifications),
		"notifications": notifications,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	notif, err := h.service.MarkRead(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update notification")
		return
	}
	writeJSON(w, http.StatusOK, notif)
}

type markAllReadRequest struct {
	RecipientID string `json:"recipient_id"`
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	var req markAllReadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updated, err := h.service.MarkAllRead(r.Context(), req.RecipientID)
	if err != nil {
		writeError(w, h.logger, err, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated_count": updated})
}

func (h *NotificationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, h.logger, err, "Failed to load statistics")
		return
	}
	resp := map[string]interface{}{"notifications": stats}
	if h.connections != nil {
		resp["connections"] = h.connections.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *NotificationHandler) Templates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": h.service.Templates()})
}

func (h *NotificationHandler) Channels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": h.service.Channels()})
}

func parseListFilter(r *http.Request) (repository.ListFilter, notification.ValidationErrors) {
	q := r.URL.Query()
	var (
		filter repository.ListFilter
		errs   notification.ValidationErrors
	)
	invalid := func(field, message string) {
		errs = append(errs, notification.ValidationError{Field: field, Message: message})
	}

	if v := q.Get("type"); v != "" {
		filter.Type = models.NotificationType(v)
		if !filter.Type.Valid() {
			invalid("type", "is not a known notification type")
		}
	}
	if v := q.Get("severity"); v != "" {
		filter.Severity = models.NotificationSeverity(v)
		if !filter.Severity.Valid() {
			invalid("severity", "is not a known severity")
		}
	}
	if v := q.Get("status"); v != "" {
		filter.Status = models.NotificationStatus(v)
		if !filter.Status.Valid() {
			invalid("status", "is not a known status")
		}
	}
	if v := q.Get("recipient_type"); v != "" {
		filter.RecipientType = models.RecipientType(v)
		if !filter.RecipientType.Valid() {
			invalid("recipient_type", "must be one of user, role, all")
		}
	}
	filter.RecipientID = strings.TrimSpace(q.Get("recipient_id"))

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start_date", &filter.StartDate}, {"end_date", &filter.EndDate}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			invalid(p.name, "must be an RFC 3339 timestamp")
			continue
		}
		*p.dst = &t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > repository.MaxListLimit {
			invalid("limit", "must be between 1 and "+strconv.Itoa(repository.MaxListLimit))
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			invalid("offset", "must be a non-negative integer")
		}
		filter.Offset = n
	}
	if v := q.Get("sort_by"); v != "" {
		if !repository.ValidSortBy(v) {
			invalid("sort_by", "must be one of created_at, title, type, severity, status")
		}
		filter.SortBy = v
	}
	if v := q.Get("sort_order"); v != "" {
		order := strings.ToUpper(v)
		if order != "ASC" && order != "DESC" {
			invalid("sort_order", "must be ASC or DESC")
		}
		filter.SortOrder = order
	}
	return filter, errs
}

package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/herald/internal/handlers"
)

const uuidPattern = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

type Handlers struct {
	Notifications *handlers.NotificationHandler
	Events        *handlers.EventHandler
	Health        *handlers.HealthHandler
	Realtime      http.Handler
}

// NewRouter sets up the API routes
func NewRouter(h Handlers) *mux.Router {
	router := mux.NewRouter()

	// Health checks
	router.HandleFunc("/health", h.Health.Check).Methods(http.MethodGet)
	router.HandleFunc("/health/live", handlers.Live).Methods(http.MethodGet)
	router.HandleFunc("/health/ready", h.Health.Ready).Methods(http.MethodGet)
	router.HandleFunc("/health/socket", h.Health.Socket).Methods(http.MethodGet)

	// Realtime
	router.Handle("/ws", h.Realtime).Methods(http.MethodGet)

	n := router.PathPrefix("/notifications").Subrouter()
	n.HandleFunc("", h.Notifications.List).Methods(http.MethodGet)
	n.HandleFunc("", h.Notifications.Create).Methods(http.MethodPost)
	n.HandleFunc("/unread", h.Notifications.Unread).Methods(http.MethodGet)
	n.HandleFunc("/stats", h.Notifications.Stats).Methods(http.MethodGet)
	n.HandleFunc("/templates", h.Notifications.Templates).Methods(http.MethodGet)
	n.HandleFunc("/channels", h.Notifications.Channels).Methods(http.MethodGet)
	n.HandleFunc("/send", h.Notifications.Send).Methods(http.MethodPost)
	n.HandleFunc("/broadcast", h.Notifications.Broadcast).Methods(http.MethodPost)
	n.HandleFunc("/mark-all-read", h.Notifications.MarkAllRead).Methods(http.MethodPost)
	n.HandleFunc("/{id:"+uuidPattern+"}", h.Notifications.Get).Methods(http.MethodGet)
	n.HandleFunc("/{id:"+uuidPattern+"}/read", h.Notifications.MarkRead).Methods(http.MethodPost)

	// Hooks for collaborating services
	e := router.PathPrefix("/events").Subrouter()
	e.HandleFunc("/violations", h.Events.Violation).Methods(http.MethodPost)
	e.HandleFunc("/camera-status", h.Events.CameraStatus).Methods(http.MethodPost)
	e.HandleFunc("/system-status", h.Events.SystemStatus).Methods(http.MethodPost)
	e.HandleFunc("/maintenance", h.Events.Maintenance).Methods(http.MethodPost)
	e.HandleFunc("/user-logout", h.Events.UserLogout).Methods(http.MethodPost)

	return router
}

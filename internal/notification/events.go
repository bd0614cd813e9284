package notification

import (
	"context"
	"strings"
	"time"

	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/realtime"
	"github.com/stanstork/herald/internal/template"
)

// Violation is a safety violation reported by the detection pipeline.
type Violation struct {
	ID          string                      `json:"id"`
	Type        string                      `json:"violation_type"`
	Severity    models.NotificationSeverity `json:"severity"`
	CameraID    string                      `json:"camera_id"`
	CameraName  string                      `json:"camera_name,omitempty"`
	Confidence  float64                     `json:"confidence"`
	Description string                      `json:"description,omitempty"`
	DetectedAt  *time.Time                  `json:"detected_at,omitempty"`
}

type Camera struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Status   string `json:"status"`
}

// NotifyViolation pushes the raw violation to the violations room and
// creates a notification for everyone on in_app and email.
func (s *service) NotifyViolation(ctx context.Context, v Violation) (models.Notification, error) {
	var errs ValidationErrors
	if strings.TrimSpace(v.ID) == "" {
		errs.add("id", "is required")
	}
	if strings.TrimSpace(v.Type) == "" {
		errs.add("violation_type", "is required")
	}
	if strings.TrimSpace(v.CameraID) == "" {
		errs.add("camera_id", "is required")
	}
	if v.Severity != "" && !v.Severity.Valid() {
		errs.add("severity", "must be one of low, medium, high, critical")
	}
	if len(errs) > 0 {
		return models.Notification{}, errs
	}

	severity := v.Severity
	if severity == "" {
		severity = models.NotificationSeverityHigh
	}
	detectedAt := s.now().UTC()
	if v.DetectedAt != nil {
		detectedAt = v.DetectedAt.UTC()
	}
	cameraName := v.CameraName
	if cameraName == "" {
		cameraName = v.CameraID
	}

	if s.emitter != nil {
		s.emitter.Emit(realtime.RoomViolations, realtime.EventViolationDetected, map[string]any{
			"id":          v.ID,
			"type":        v.Type,
			"severity":    severity,
			"camera_id":   v.CameraID,
			"confidence":  v.Confidence,
			"timestamp":   detectedAt,
			"description": v.Description,
		})
	}

	templateID := template.ViolationDetected
	return s.Create(ctx, CreateRequest{
		Title:         "Safety Violation Detected",
		Type:          models.NotificationTypeViolation,
		Severity:      severity,
		RecipientType: models.RecipientAll,
		TemplateID:    &templateID,
		Metadata: map[string]any{
			"violation_id":   v.ID,
			"violation_type": v.Type,
			"camera_id":      v.CameraID,
			"camera_name":    cameraName,
			"confidence":     v.Confidence,
		},
	})
}

// NotifyCameraStatus pushes the status change to subscribers of the camera
// and tells admins about it in-app.
func (s *service) NotifyCameraStatus(ctx context.Context, camera Camera) (models.Notification, error) {
	var errs ValidationErrors
	if strings.TrimSpace(camera.ID) == "" {
		errs.add("id", "is required")
	}
	status := strings.ToLower(strings.TrimSpace(camera.Status))
	if status == "" {
		errs.add("status", "is required")
	}
	if len(errs) > 0 {
		return models.Notification{}, errs
	}

	name := camera.Name
	if name == "" {
		name = camera.ID
	}
	location := camera.Location
	if location == "" {
		location = "unknown location"
	}

	if s.emitter != nil {
		s.emitter.Emit(realtime.CameraRoom(camera.ID), realtime.EventCameraStatusUpdate, map[string]any{
			"id":        camera.ID,
			"name":      name,
			"status":    status,
			"timestamp": s.now().UTC(),
		})
	}

	title, severity := "Camera Online", models.NotificationSeverityLow
	if status == "offline" {
		title, severity = "Camera Offline", models.NotificationSeverityMedium
	}
	admin := "admin"
	templateID := template.CameraOffline
	return s.Create(ctx, CreateRequest{
		Title:          title,
		Message:        "Camera {{camera_name}} at {{location}} is now {{status}}.",
		Type:           models.NotificationTypeSystem,
		Severity:       severity,
		Channels:       []models.Channel{models.ChannelInApp},
		RecipientType:  models.RecipientRole,
		RecipientValue: &admin,
		TemplateID:     &templateID,
		Metadata: map[string]any{
			"camera_id":   camera.ID,
			"camera_name": name,
			"location":    location,
			"status":      status,
		},
	})
}

// NotifySystemStatus relays a status snapshot to the system room. It
// returns the number of connections reached.
func (s *service) NotifySystemStatus(_ context.Context, status map[string]any) int {
	if s.emitter == nil {
		return 0
	}
	payload := make(map[string]any, len(status)+1)
	for k, v := range status {
		payload[k] = v
	}
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = s.now().UTC()
	}
	return s.emitter.Emit(realtime.RoomSystem, realtime.EventSystemStatusUpdate, payload)
}

func (s *service) BroadcastMaintenance(_ context.Context, enabled bool) int {
	if s.emitter == nil {
		return 0
	}
	reached := s.emitter.Broadcast(realtime.EventMaintenanceMode, map[string]any{
		"maintenance_mode": enabled,
		"timestamp":        s.now().UTC(),
	})
	s.logger.Info().Bool("maintenance_mode", enabled).Int("connections", reached).Msg("maintenance mode broadcast")
	return reached
}

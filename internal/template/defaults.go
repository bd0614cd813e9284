package template

import "github.com/stanstork/herald/internal/models"

const (
	ViolationDetected = "violation_detected"
	CameraOffline     = "camera_offline"
	SystemMaintenance = "system_maintenance"
	UserLogin         = "user_login"
	ViolationResolved = "violation_resolved"
)

// DefaultTemplates is the built-in registry loaded at startup.
func DefaultTemplates() []Template {
	inAppEmail := []models.Channel{models.ChannelInApp, models.ChannelEmail}
	return []Template{
		{
			ID:       ViolationDetected,
			Title:    "Safety Violation Detected",
			Message:  "A {{violation_type}} violation has been detected on camera {{camera_name}} with {{confidence}}% confidence.",
			Channels: inAppEmail,
			Severity: models.NotificationSeverityHigh,
		},
		{
			ID:       CameraOffline,
			Title:    "Camera Offline",
			Message:  "Camera {{camera_name}} at {{location}} is currently offline.",
			Channels: inAppEmail,
			Severity: models.NotificationSeverityMedium,
		},
		{
			ID:       SystemMaintenance,
			Title:    "System Maintenance",
			Message:  "Scheduled maintenance will begin at {{start_time}} and is expected to last {{duration}}.",
			Channels: inAppEmail,
			Severity: models.NotificationSeverityLow,
		},
		{
			ID:       UserLogin,
			Title:    "User Login",
			Message:  "User {{username}} has logged in from {{ip_address}}.",
			Channels: []models.Channel{models.ChannelInApp},
			Severity: models.NotificationSeverityLow,
		},
		{
			ID:       ViolationResolved,
			Title:    "Violation Resolved",
			Message:  "Violation {{violation_id}} has been resolved by {{investigator_name}}.",
			Channels: inAppEmail,
			Severity: models.NotificationSeverityLow,
		},
	}
}

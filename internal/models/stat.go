package models

// NotificationStats aggregates stored notifications for the stats endpoint.
type NotificationStats struct {
	Total      int                          `json:"total"`
	Unread     int                          `json:"unread"`
	Today      int                          `json:"today"`
	ByType     map[NotificationType]int     `json:"by_type"`
	BySeverity map[NotificationSeverity]int `json:"by_severity"`
	ByStatus   map[NotificationStatus]int   `json:"by_status"`
}

func NewNotificationStats() NotificationStats {
	return NotificationStats{
		ByType:     make(map[NotificationType]int),
		BySeverity: make(map[NotificationSeverity]int),
		ByStatus:   make(map[NotificationStatus]int),
	}
}

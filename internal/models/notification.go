package models

import (
	"time"
)

const (
	MaxTitleLength   = 255
	MaxMessageLength = 2000
	// MaxRetries bounds automatic re-delivery of failed notifications.
	MaxRetries = 3
)

type NotificationType string

const (
	NotificationTypeViolation   NotificationType = "violation"
	NotificationTypeSystem      NotificationType = "system"
	NotificationTypeMaintenance NotificationType = "maintenance"
	NotificationTypeAlert       NotificationType = "alert"
	NotificationTypeInfo        NotificationType = "info"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTypeViolation, NotificationTypeSystem, NotificationTypeMaintenance,
		NotificationTypeAlert, NotificationTypeInfo:
		return true
	}
	return false
}

type NotificationSeverity string

const (
	NotificationSeverityLow      NotificationSeverity = "low"
	NotificationSeverityMedium   NotificationSeverity = "medium"
	NotificationSeverityHigh     NotificationSeverity = "high"
	NotificationSeverityCritical NotificationSeverity = "critical"
)

func (s NotificationSeverity) Valid() bool {
	switch s {
	case NotificationSeverityLow, NotificationSeverityMedium, NotificationSeverityHigh, NotificationSeverityCritical:
		return true
	}
	return false
}

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// AllChannels lists the supported channels in their canonical order.
var AllChannels = []Channel{ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush}

func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// RichContent reports whether the channel renders an HTML body.
func (c Channel) RichContent() bool {
	return c == ChannelEmail
}

type RecipientType string

const (
	RecipientUser RecipientType = "user"
	RecipientRole RecipientType = "role"
	RecipientAll  RecipientType = "all"
)

func (r RecipientType) Valid() bool {
	switch r {
	case RecipientUser, RecipientRole, RecipientAll:
		return true
	}
	return false
}

type Notification struct {
	ID             string               `json:"id" db:"id"`
	Title          string               `json:"title" db:"title"`
	Message        string               `json:"message" db:"message"`
	Type           NotificationType     `json:"type" db:"type"`
	Severity       NotificationSeverity `json:"severity" db:"severity"`
	Status         NotificationStatus   `json:"status" db:"status"`
	Channels       []Channel            `json:"channels" db:"channels"`
	RecipientType  RecipientType        `json:"recipient_type" db:"recipient_type"`
	RecipientID    *string              `json:"recipient_id,omitempty" db:"recipient_id"`
	RecipientValue *string              `json:"recipient_value,omitempty" db:"recipient_value"`
	Metadata       map[string]any       `json:"metadata,omitempty" db:"metadata"`
	TemplateID     *string              `json:"template_id,omitempty" db:"template_id"`
	ScheduledAt    *time.Time           `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt         *time.Time           `json:"sent_at,omitempty" db:"sent_at"`
	ReadAt         *time.Time           `json:"read_at,omitempty" db:"read_at"`
	ExpiresAt      *time.Time           `json:"expires_at,omitempty" db:"expires_at"`
	RetryCount     int                  `json:"retry_count" db:"retry_count"`
	ErrorMessage   *string              `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at" db:"updated_at"`
}

// Recipient returns the addressing triple of the notification.
func (n Notification) Recipient() Recipient {
	r := Recipient{Type: n.RecipientType}
	if n.RecipientID != nil {
		r.ID = *n.RecipientID
	}
	if n.RecipientValue != nil {
		r.Value = *n.RecipientValue
	}
	return r
}

// Due reports whether a scheduled notification may be dispatched at now.
func (n Notification) Due(now time.Time) bool {
	return n.ScheduledAt == nil || !n.ScheduledAt.After(now)
}

// Expired reports whether the notification is past its expiry at now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}

// Deliverable reports whether the orchestrator may start a delivery attempt.
func (n Notification) Deliverable(now time.Time, maxRetries int) bool {
	if n.Expired(now) {
		return false
	}
	switch n.Status {
	case StatusPending:
		return n.Due(now)
	case StatusFailed:
		return n.RetryCount < maxRetries
	}
	return false
}

// Recipient addresses a user, every member of a role, or everyone.
type Recipient struct {
	Type  RecipientType
	ID    string
	Value string
}

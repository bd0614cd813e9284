package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotificationStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from NotificationStatus
		to   NotificationStatus
		want bool
	}{
		{StatusPending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusFailed, true},
		{StatusFailed, StatusSent, true},
		{StatusPending, StatusExpired, true},
		{StatusSent, StatusExpired, true},
		{StatusSent, StatusRead, true},
		{StatusDelivered, StatusRead, true},
		{StatusPending, StatusRead, false},
		{StatusFailed, StatusRead, false},
		{StatusExpired, StatusRead, false},
		{StatusDelivered, StatusExpired, false},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusSent, false},
		{StatusExpired, StatusSent, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNotificationStatus_Readable(t *testing.T) {
	assert.True(t, StatusSent.Readable())
	assert.True(t, StatusDelivered.Readable())
	assert.False(t, StatusPending.Readable())
	assert.False(t, StatusFailed.Readable())
	assert.False(t, StatusExpired.Readable())
	assert.False(t, StatusRead.Readable())
}

func TestNotification_Deliverable(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		n    Notification
		want bool
	}{
		{"pending unscheduled", Notification{Status: StatusPending}, true},
		{"pending due", Notification{Status: StatusPending, ScheduledAt: &past}, true},
		{"pending scheduled in future", Notification{Status: StatusPending, ScheduledAt: &future}, false},
		{"pending expired", Notification{Status: StatusPending, ExpiresAt: &past}, false},
		{"failed below limit", Notification{Status: StatusFailed, RetryCount: 2}, true},
		{"failed at limit", Notification{Status: StatusFailed, RetryCount: MaxRetries}, false},
		{"delivered", Notification{Status: StatusDelivered}, false},
		{"sent", Notification{Status: StatusSent}, false},
		{"read", Notification{Status: StatusRead}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.n.Deliverable(now, MaxRetries))
		})
	}
}

func TestNotification_Recipient(t *testing.T) {
	id := "42"
	n := Notification{RecipientType: RecipientUser, RecipientID: &id}
	assert.Equal(t, Recipient{Type: RecipientUser, ID: "42"}, n.Recipient())

	role := "admin"
	n = Notification{RecipientType: RecipientRole, RecipientValue: &role}
	assert.Equal(t, Recipient{Type: RecipientRole, Value: "admin"}, n.Recipient())
}

func TestEnums_Valid(t *testing.T) {
	assert.True(t, NotificationTypeViolation.Valid())
	assert.False(t, NotificationType("other").Valid())
	assert.True(t, NotificationSeverityCritical.Valid())
	assert.False(t, NotificationSeverity("urgent").Valid())
	assert.True(t, ChannelPush.Valid())
	assert.False(t, Channel("fax").Valid())
	assert.True(t, RecipientAll.Valid())
	assert.False(t, RecipientType("group").Valid())
	assert.True(t, ChannelEmail.RichContent())
	assert.False(t, ChannelSMS.RichContent())
}

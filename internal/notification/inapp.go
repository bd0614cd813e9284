package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/realtime"
	"github.com/stanstork/herald/internal/template"
)

// Emitter is the part of the realtime registry the in-app channel needs.
type Emitter interface {
	Emit(room, event string, payload any) int
	Broadcast(event string, payload any) int
}

// InAppSender pushes notifications to live connections. Delivery is best
// effort: zero listeners is still a success.
type InAppSender struct {
	emitter Emitter
	logger  zerolog.Logger
}

func NewInAppSender(emitter Emitter, logger zerolog.Logger) *InAppSender {
	return &InAppSender{
		emitter: emitter,
		logger:  logger.With().Str("notifier", "in_app").Logger(),
	}
}

func (s *InAppSender) Channel() models.Channel {
	return models.ChannelInApp
}

func (s *InAppSender) Send(_ context.Context, notif models.Notification, content template.Content) error {
	if s.emitter == nil {
		return notConfigured(models.ChannelInApp)
	}

	timestamp := time.Now().UTC()
	if notif.SentAt != nil {
		timestamp = notif.SentAt.UTC()
	}
	payload := map[string]any{
		"id":        notif.ID,
		"title":     content.Title,
		"message":   content.Text,
		"type":      notif.Type,
		"severity":  notif.Severity,
		"metadata":  notif.Metadata,
		"timestamp": timestamp,
	}

	recipient := notif.Recipient()
	var reached int
	switch recipient.Type {
	case models.RecipientUser:
		if recipient.ID == "" {
			return fmt.Errorf("in_app: user recipient without id")
		}
		reached = s.emitter.Emit(realtime.UserRoom(recipient.ID), realtime.EventNotification, payload)
	case models.RecipientRole:
		if recipient.Value == "" {
			return fmt.Errorf("in_app: role recipient without role name")
		}
		reached = s.emitter.Emit(realtime.RoleRoom(recipient.Value), realtime.EventNotification, payload)
	default:
		reached = s.emitter.Broadcast(realtime.EventNotification, payload)
	}

	s.logger.Debug().
		Str("notification_id", notif.ID).
		Str("recipient_type", string(recipient.Type)).
		Int("connections", reached).
		Msg("in-app notification emitted")
	return nil
}

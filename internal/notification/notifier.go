package notification

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/template"
)

// ErrChannelNotConfigured is matched by errors.Is for every channel whose
// transport was not set up at startup.
var ErrChannelNotConfigured = errors.New("channel is not configured")

// Sender transmits rendered content for one notification through a single
// channel.
type Sender interface {
	Channel() models.Channel
	Send(ctx context.Context, notif models.Notification, content template.Content) error
}

// ChannelInfo describes a channel for the API and health reports.
type ChannelInfo struct {
	ID      models.Channel `json:"id"`
	Name    string         `json:"name"`
	Enabled bool           `json:"enabled"`
}

var channelNames = map[models.Channel]string{
	models.ChannelInApp: "In-App Notifications",
	models.ChannelEmail: "Email",
	models.ChannelSMS:   "SMS",
	models.ChannelPush:  "Push Notifications",
}

type notConfiguredError struct {
	channel models.Channel
}

func (e notConfiguredError) Error() string {
	return string(e.channel) + " channel is not configured"
}

func (e notConfiguredError) Is(target error) bool {
	return target == ErrChannelNotConfigured
}

func notConfigured(channel models.Channel) error {
	return notConfiguredError{channel: channel}
}

// unconfigured stands in for a channel with no transport so that Process
// records a failure instead of skipping the channel.
type unconfigured struct {
	channel models.Channel
}

func (u unconfigured) Channel() models.Channel {
	return u.channel
}

func (u unconfigured) Send(context.Context, models.Notification, template.Content) error {
	return notConfigured(u.channel)
}

func sanitizeRecipients(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	var cleaned []string
	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		key := strings.ToLower(recipient)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, recipient)
	}
	return cleaned
}

func logNotifyError(logger zerolog.Logger, err error, channel models.Channel, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("type", string(notif.Type)).
		Str("channel", string(channel)).
		Msg("failed to deliver notification")
}

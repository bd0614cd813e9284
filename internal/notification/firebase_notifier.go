package notification

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/template"
	"google.golang.org/api/option"
)

// PushMessage is a topic-addressed mobile push.
type PushMessage struct {
	Topic    string
	Title    string
	Body     string
	Severity models.NotificationSeverity
	Data     map[string]string
}

type PushGateway interface {
	Send(ctx context.Context, msg PushMessage) error
}

// invalidTopicChars are the characters FCM rejects in topic names.
var invalidTopicChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.~%]`)

// PushSender maps recipients onto FCM topics: user-<id>, role-<name> and
// the configured broadcast topic for everyone.
type PushSender struct {
	gateway        PushGateway
	broadcastTopic string
	logger         zerolog.Logger
}

func NewPushSender(gateway PushGateway, broadcastTopic string, logger zerolog.Logger) *PushSender {
	if strings.TrimSpace(broadcastTopic) == "" {
		broadcastTopic = "all"
	}
	return &PushSender{
		gateway:        gateway,
		broadcastTopic: broadcastTopic,
		logger:         logger.With().Str("notifier", "push").Logger(),
	}
}

func (n *PushSender) Channel() models.Channel {
	return models.ChannelPush
}

func (n *PushSender) Send(ctx context.Context, notif models.Notification, content template.Content) error {
	if n.gateway == nil {
		return notConfigured(models.ChannelPush)
	}

	topic := n.topicFor(notif.Recipient())
	data := map[string]string{
		"notification_id": notif.ID,
		"type":            string(notif.Type),
		"severity":        string(notif.Severity),
	}
	for k, v := range notif.Metadata {
		if _, reserved := data[k]; !reserved && v != nil {
			data[k] = fmt.Sprint(v)
		}
	}

	err := n.gateway.Send(ctx, PushMessage{
		Topic:    topic,
		Title:    content.Title,
		Body:     content.Text,
		Severity: notif.Severity,
		Data:     data,
	})
	if err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("topic", topic).
		Msg("push notification sent")
	return nil
}

func (n *PushSender) topicFor(recipient models.Recipient) string {
	switch recipient.Type {
	case models.RecipientUser:
		return "user-" + invalidTopicChars.ReplaceAllString(recipient.ID, "_")
	case models.RecipientRole:
		return "role-" + invalidTopicChars.ReplaceAllString(recipient.Value, "_")
	}
	return n.broadcastTopic
}

// FirebaseGateway sends pushes through Firebase Cloud Messaging.
type FirebaseGateway struct {
	client *messaging.Client
}

func NewFirebaseGateway(ctx context.Context, cfg config.PushConfig) (*FirebaseGateway, error) {
	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting messaging client: %w", err)
	}
	return &FirebaseGateway{client: client}, nil
}

func (g *FirebaseGateway) Send(ctx context.Context, msg PushMessage) error {
	priority := "normal"
	apnsPriority := "5"
	if msg.Severity == models.NotificationSeverityHigh || msg.Severity == models.NotificationSeverityCritical {
		priority = "high"
		apnsPriority = "10"
	}

	_, err := g.client.Send(ctx, &messaging.Message{
		Topic: msg.Topic,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: priority,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  apnsPriority,
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("firebase: failed to send message to topic %s: %w", msg.Topic, err)
	}
	return nil
}

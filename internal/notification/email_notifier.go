package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/template"
)

// Mail is one outgoing message. HTML is optional.
type Mail struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

type MailTransport interface {
	Send(ctx context.Context, mail Mail) error
}

type EmailSender struct {
	transport MailTransport
	directory Directory
	logger    zerolog.Logger
}

// NewEmailSender returns a sender for the email channel. A nil transport
// yields a sender that fails every delivery as unconfigured.
func NewEmailSender(transport MailTransport, directory Directory, logger zerolog.Logger) *EmailSender {
	return &EmailSender{
		transport: transport,
		directory: directory,
		logger:    logger.With().Str("notifier", "email").Logger(),
	}
}

func (n *EmailSender) Channel() models.Channel {
	return models.ChannelEmail
}

func (n *EmailSender) Send(ctx context.Context, notif models.Notification, content template.Content) error {
	if n.transport == nil || n.directory == nil {
		return notConfigured(models.ChannelEmail)
	}

	contacts, err := n.directory.Lookup(ctx, notif.Recipient())
	if err != nil {
		return fmt.Errorf("resolve email recipients: %w", err)
	}
	addresses := make([]string, 0, len(contacts))
	for _, c := range contacts {
		addresses = append(addresses, c.Email)
	}
	recipients := sanitizeRecipients(addresses)
	if len(recipients) == 0 {
		return fmt.Errorf("no email address for %s recipient", notif.RecipientType)
	}

	subject := fmt.Sprintf("[Herald] %s", strings.TrimSpace(content.Title))
	if subject == "[Herald] " {
		subject = "[Herald] Notification"
	}

	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(content.Text))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Type: %s\n", notif.Type))
	body.WriteString(fmt.Sprintf("Severity: %s\n", notif.Severity))
	body.WriteString(fmt.Sprintf("Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST")))

	err = n.transport.Send(ctx, Mail{
		To:      recipients,
		Subject: subject,
		Text:    body.String(),
		HTML:    content.HTML,
	})
	if err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("type", string(notif.Type)).
		Strs("recipients", recipients).
		Msg("email notification sent")
	return nil
}

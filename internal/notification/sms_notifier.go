package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/template"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// maxSMSLength keeps messages within a few concatenated segments.
const maxSMSLength = 480

type SMSGateway interface {
	Send(ctx context.Context, to, body string) error
}

type SMSSender struct {
	gateway   SMSGateway
	directory Directory
	logger    zerolog.Logger
}

func NewSMSSender(gateway SMSGateway, directory Directory, logger zerolog.Logger) *SMSSender {
	return &SMSSender{
		gateway:   gateway,
		directory: directory,
		logger:    logger.With().Str("notifier", "sms").Logger(),
	}
}

func (n *SMSSender) Channel() models.Channel {
	return models.ChannelSMS
}

// Send texts every phone number of the recipient. The first gateway error
// aborts the remaining numbers.
func (n *SMSSender) Send(ctx context.Context, notif models.Notification, content template.Content) error {
	if n.gateway == nil || n.directory == nil {
		return notConfigured(models.ChannelSMS)
	}

	contacts, err := n.directory.Lookup(ctx, notif.Recipient())
	if err != nil {
		return fmt.Errorf("resolve sms recipients: %w", err)
	}
	phones := make([]string, 0, len(contacts))
	for _, c := range contacts {
		phones = append(phones, c.Phone)
	}
	phones = sanitizeRecipients(phones)
	if len(phones) == 0 {
		return fmt.Errorf("no phone number for %s recipient", notif.RecipientType)
	}

	body := smsBody(content)
	for _, phone := range phones {
		if err := n.gateway.Send(ctx, phone, body); err != nil {
			return fmt.Errorf("sms to %s: %w", phone, err)
		}
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Int("recipients", len(phones)).
		Msg("sms notification sent")
	return nil
}

func smsBody(content template.Content) string {
	body := strings.TrimSpace(content.Text)
	if title := strings.TrimSpace(content.Title); title != "" {
		body = title + ": " + body
	}
	if runes := []rune(body); len(runes) > maxSMSLength {
		body = string(runes[:maxSMSLength-3]) + "..."
	}
	return body
}

// TwilioGateway delivers SMS through the Twilio REST API.
type TwilioGateway struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioGateway(cfg config.SMSConfig) (*TwilioGateway, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("sms from number is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &TwilioGateway{client: client, from: strings.TrimSpace(cfg.From)}, nil
}

// Send checks ctx only before the request. The orchestrator stops waiting
// at the channel deadline even when the Twilio call is still in flight.
func (g *TwilioGateway) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(g.from)
	params.SetBody(body)

	resp, err := g.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return fmt.Errorf("twilio: %s", *resp.ErrorMessage)
	}
	return nil
}

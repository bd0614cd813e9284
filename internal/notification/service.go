package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/repository"
	"github.com/stanstork/herald/internal/template"
)

// CreateRequest is the caller-supplied shape of a new notification.
type CreateRequest struct {
	Title          string                      `json:"title"`
	Message        string                      `json:"message"`
	Type           models.NotificationType     `json:"type"`
	Severity       models.NotificationSeverity `json:"severity,omitempty"`
	Channels       []models.Channel            `json:"channels,omitempty"`
	RecipientType  models.RecipientType        `json:"recipient_type,omitempty"`
	RecipientID    *string                     `json:"recipient_id,omitempty"`
	RecipientValue *string                     `json:"recipient_value,omitempty"`
	Metadata       map[string]any              `json:"metadata,omitempty"`
	TemplateID     *string                     `json:"template_id,omitempty"`
	ScheduledAt    *time.Time                  `json:"scheduled_at,omitempty"`
	ExpiresAt      *time.Time                  `json:"expires_at,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (models.Notification, error)
	Send(ctx context.Context, req CreateRequest) (models.Notification, error)
	Broadcast(ctx context.Context, req CreateRequest) (models.Notification, error)
	Process(ctx context.Context, notif models.Notification) error

	Get(ctx context.Context, id string) (models.Notification, error)
	List(ctx context.Context, filter repository.ListFilter) ([]models.Notification, int, error)
	Unread(ctx context.Context, recipientID *string) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string) (models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string) (int, error)
	Stats(ctx context.Context) (models.NotificationStats, error)
	Ping(ctx context.Context) error

	DispatchPending(ctx context.Context) (int, error)
	RetryFailed(ctx context.Context) (int, error)
	ExpireStale(ctx context.Context) (int, error)

	NotifyViolation(ctx context.Context, v Violation) (models.Notification, error)
	NotifyCameraStatus(ctx context.Context, camera Camera) (models.Notification, error)
	NotifySystemStatus(ctx context.Context, status map[string]any) int
	BroadcastMaintenance(ctx context.Context, enabled bool) int

	Templates() []template.Template
	Channels() []ChannelInfo
}

type Options struct {
	MaxRetries     int
	ChannelTimeout time.Duration
	BatchSize      int
}

type service struct {
	repo      repository.NotificationRepository
	templates *template.Engine
	emitter   Emitter
	senders   map[models.Channel]Sender
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService wires the orchestrator. Channels without a sender, or with a
// nil sender, fail every delivery as unconfigured.
func NewService(repo repository.NotificationRepository, templates *template.Engine, emitter Emitter, logger zerolog.Logger, opts Options, senders ...Sender) Service {
	return newService(repo, templates, emitter, logger, opts, senders...)
}

func newService(repo repository.NotificationRepository, templates *template.Engine, emitter Emitter, logger zerolog.Logger, opts Options, senders ...Sender) *service {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = models.MaxRetries
	}
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = 10 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if templates == nil {
		templates = template.NewEngine(template.DefaultTemplates()...)
	}

	active := make(map[models.Channel]Sender, len(models.AllChannels))
	for _, ch := range models.AllChannels {
		active[ch] = unconfigured{channel: ch}
	}
	for _, sender := range senders {
		if sender != nil {
			active[sender.Channel()] = sender
		}
	}

	return &service{
		repo:      repo,
		templates: templates,
		emitter:   emitter,
		senders:   active,
		opts:      opts,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		now:       time.Now,
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (models.Notification, error) {
	params, err := s.prepare(req)
	if err != nil {
		return models.Notification{}, err
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("type", string(params.Type)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	s.logger.Info().
		Str("notification_id", notif.ID).
		Str("type", string(notif.Type)).
		Str("recipient_type", string(notif.RecipientType)).
		Msg("notification created")

	// Delivery outcome is reported through status, not through the create call.
	if err := s.Process(ctx, notif); err != nil {
		s.logger.Error().Err(err).Str("notification_id", notif.ID).Msg("immediate processing failed")
	}

	stored, err := s.repo.Get(context.WithoutCancel(ctx), notif.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("notification_id", notif.ID).Msg("failed to reload notification")
		return notif, nil
	}
	return stored, nil
}

// Send dispatches immediately, ignoring any scheduled_at.
func (s *service) Send(ctx context.Context, req CreateRequest) (models.Notification, error) {
	req.ScheduledAt = nil
	return s.Create(ctx, req)
}

func (s *service) Broadcast(ctx context.Context, req CreateRequest) (models.Notification, error) {
	req.RecipientType = models.RecipientAll
	req.RecipientID = nil
	req.RecipientValue = nil
	return s.Create(ctx, req)
}

// Process runs one delivery attempt. A record that is not deliverable
// (already delivered, scheduled for later, expired, out of retries or
// claimed concurrently) is left untouched. Channel failures are recorded
// on the record; only store errors are returned.
func (s *service) Process(ctx context.Context, notif models.Notification) error {
	_, err := s.process(ctx, notif)
	return err
}

// process reports whether this call claimed the record and ran an attempt.
func (s *service) process(ctx context.Context, notif models.Notification) (bool, error) {
	claimed, err := s.repo.ClaimForDelivery(ctx, notif.ID, s.now(), s.opts.MaxRetries)
	if errors.Is(err, repository.ErrNotEligible) {
		s.logger.Debug().Str("notification_id", notif.ID).Msg("notification not eligible for delivery")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var failures []string
	for _, ch := range claimed.Channels {
		if err := s.deliver(ctx, claimed, ch); err != nil {
			logNotifyError(s.logger, err, ch, claimed)
			failures = append(failures, fmt.Sprintf("%s: %v", ch, err))
		}
	}

	var errMsg *string
	if len(failures) > 0 {
		msg := strings.Join(failures, "; ")
		errMsg = &msg
	}

	// The attempt must be closed even if the caller has gone away, or the
	// record would stay in sent.
	done, err := s.repo.CompleteDelivery(context.WithoutCancel(ctx), claimed.ID, errMsg, s.now())
	if errors.Is(err, repository.ErrNotEligible) {
		s.logger.Warn().Str("notification_id", claimed.ID).Msg("notification changed during delivery")
		return true, nil
	}
	if err != nil {
		return true, err
	}

	if done.Status == models.StatusFailed {
		s.logger.Warn().
			Str("notification_id", done.ID).
			Int("retry_count", done.RetryCount).
			Str("error", *errMsg).
			Msg("notification delivery failed")
		return true, nil
	}
	s.logger.Info().Str("notification_id", done.ID).Msg("notification delivered")
	return true, nil
}

func (s *service) deliver(ctx context.Context, notif models.Notification, ch models.Channel) error {
	sender, ok := s.senders[ch]
	if !ok {
		return notConfigured(ch)
	}

	src := template.Source{Title: notif.Title, Message: notif.Message, Severity: notif.Severity}
	if notif.TemplateID != nil {
		src.TemplateID = *notif.TemplateID
	}
	content := s.templates.Render(src, notif.Metadata, ch)

	// A claimed attempt runs to the channel deadline even if the caller
	// has gone away. Transports that ignore ctx are abandoned there.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ChannelTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- sender.Send(ctx, notif, content)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *service) Get(ctx context.Context, id string) (models.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Notification{}, repository.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *service) List(ctx context.Context, filter repository.ListFilter) ([]models.Notification, int, error) {
	return s.repo.List(ctx, filter.Normalize())
}

func (s *service) Unread(ctx context.Context, recipientID *string) ([]models.Notification, error) {
	if recipientID != nil && strings.TrimSpace(*recipientID) == "" {
		recipientID = nil
	}
	return s.repo.FindUnread(ctx, recipientID)
}

func (s *service) MarkRead(ctx context.Context, id string) (models.Notification, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Notification{}, repository.ErrNotFound
	}
	return s.repo.MarkRead(ctx, id, s.now())
}

func (s *service) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return 0, ValidationErrors{{Field: "recipient_id", Message: "is required"}}
	}
	return s.repo.MarkAllRead(ctx, recipientID, s.now())
}

func (s *service) Stats(ctx context.Context) (models.NotificationStats, error) {
	return s.repo.Stats(ctx, s.now())
}

func (s *service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *service) Templates() []template.Template {
	return s.templates.Templates()
}

func (s *service) Channels() []ChannelInfo {
	infos := make([]ChannelInfo, 0, len(models.AllChannels))
	for _, ch := range models.AllChannels {
		_, disabled := s.senders[ch].(unconfigured)
		infos = append(infos, ChannelInfo{ID: ch, Name: channelNames[ch], Enabled: !disabled})
	}
	return infos
}

// prepare validates req and resolves template defaults into store params.
func (s *service) prepare(req CreateRequest) (repository.CreateNotificationParams, error) {
	var errs ValidationErrors

	var templateID *string
	if req.TemplateID != nil && strings.TrimSpace(*req.TemplateID) != "" {
		id := strings.TrimSpace(*req.TemplateID)
		tpl, ok := s.templates.Lookup(id)
		if !ok {
			errs.add("template_id", fmt.Sprintf("unknown template %q", id))
		} else {
			templateID = &id
			if strings.TrimSpace(req.Title) == "" {
				req.Title = tpl.Title
			}
			if strings.TrimSpace(req.Message) == "" {
				req.Message = tpl.Message
			}
			if len(req.Channels) == 0 {
				req.Channels = append([]models.Channel(nil), tpl.Channels...)
			}
			if req.Severity == "" {
				req.Severity = tpl.Severity
			}
		}
	}

	title := strings.TrimSpace(req.Title)
	switch {
	case title == "":
		errs.add("title", "is required")
	case utf8.RuneCountInString(title) > models.MaxTitleLength:
		errs.add("title", fmt.Sprintf("must be at most %d characters", models.MaxTitleLength))
	}
	message := strings.TrimSpace(req.Message)
	switch {
	case message == "":
		errs.add("message", "is required")
	case utf8.RuneCountInString(message) > models.MaxMessageLength:
		errs.add("message", fmt.Sprintf("must be at most %d characters", models.MaxMessageLength))
	}

	if !req.Type.Valid() {
		errs.add("type", "must be one of violation, system, maintenance, alert, info")
	}
	severity := req.Severity
	if severity == "" {
		severity = models.NotificationSeverityMedium
	}
	if !severity.Valid() {
		errs.add("severity", "must be one of low, medium, high, critical")
	}

	channels := make([]models.Channel, 0, len(req.Channels))
	seen := make(map[models.Channel]bool, len(req.Channels))
	for _, ch := range req.Channels {
		if !ch.Valid() {
			errs.add("channels", fmt.Sprintf("unsupported channel %q", ch))
			continue
		}
		if !seen[ch] {
			seen[ch] = true
			channels = append(channels, ch)
		}
	}
	if len(req.Channels) == 0 {
		channels = append(channels, models.ChannelInApp)
	}

	recipientID := trimmed(req.RecipientID)
	recipientValue := trimmed(req.RecipientValue)
	recipientType := req.RecipientType
	if recipientType == "" {
		switch {
		case recipientID != nil:
			recipientType = models.RecipientUser
		case recipientValue != nil:
			recipientType = models.RecipientRole
		default:
			recipientType = models.RecipientAll
		}
	}
	switch recipientType {
	case models.RecipientUser:
		if recipientID == nil {
			errs.add("recipient_id", "is required for user recipients")
		}
		if recipientValue != nil {
			errs.add("recipient_value", "is only allowed for role recipients")
		}
	case models.RecipientRole:
		if recipientValue == nil {
			errs.add("recipient_value", "is required for role recipients")
		}
		if recipientID != nil {
			errs.add("recipient_id", "is only allowed for user recipients")
		}
	case models.RecipientAll:
		recipientID, recipientValue = nil, nil
	default:
		errs.add("recipient_type", "must be one of user, role, all")
	}

	if req.ScheduledAt != nil && req.ExpiresAt != nil && !req.ExpiresAt.After(*req.ScheduledAt) {
		errs.add("expires_at", "must be after scheduled_at")
	}

	if len(errs) > 0 {
		return repository.CreateNotificationParams{}, errs
	}
	return repository.CreateNotificationParams{
		Title:          title,
		Message:        message,
		Type:           req.Type,
		Severity:       severity,
		Channels:       channels,
		RecipientType:  recipientType,
		RecipientID:    recipientID,
		RecipientValue: recipientValue,
		Metadata:       req.Metadata,
		TemplateID:     templateID,
		ScheduledAt:    req.ScheduledAt,
		ExpiresAt:      req.ExpiresAt,
	}, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
	"github.com/stanstork/herald/internal/identity"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/realtime"
	"github.com/stanstork/herald/internal/repository"
	"github.com/stanstork/herald/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type emitted struct {
	room    string
	event   string
	payload map[string]any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Emit(room, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := payload.(map[string]any)
	f.events = append(f.events, emitted{room: room, event: event, payload: p})
	return 1
}

func (f *fakeEmitter) Broadcast(event string, payload any) int {
	return f.Emit("*", event, payload)
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.events...)
}

type fakeMail struct {
	mu    sync.Mutex
	sent  []Mail
	err   error
	block bool
}

func (f *fakeMail) Send(ctx context.Context, mail Mail) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, mail)
	return f.err
}

func (f *fakeMail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	svc     *service
	repo    repository.NotificationRepository
	clock   *clock
	emitter *fakeEmitter
	mail    *fakeMail
}

var testContacts = NewStaticDirectory(config.ContactsConfig{
	Users: map[string]config.Contact{
		"42": {Email: "jane@example.com", Phone: "+15550000042"},
	},
	Roles: map[string][]config.Contact{
		"admin": {{Email: "ops@example.com", Phone: "+15550000001"}},
	},
	Fallback: config.Contact{Email: "fallback@example.com"},
})

// newHarness wires the service with an in-app fake and, when mail is
// non-nil, an email sender.
func newHarness(t *testing.T, mail *fakeMail, opts Options) *harness {
	t.Helper()
	c := &clock{now: baseTime}
	repo := repository.NewMemoryRepositoryWithClock(c.Now)
	emitter := &fakeEmitter{}

	senders := []Sender{NewInAppSender(emitter, zerolog.Nop())}
	if mail != nil {
		senders = append(senders, NewEmailSender(mail, testContacts, zerolog.Nop()))
	}
	svc := newService(repo, nil, emitter, zerolog.Nop(), opts, senders...)
	svc.now = c.Now
	return &harness{svc: svc, repo: repo, clock: c, emitter: emitter, mail: mail}
}

func strPtr(s string) *string { return &s }

func basicRequest() CreateRequest {
	return CreateRequest{
		Title:   "Cam Offline",
		Message: "Camera 7 stopped streaming",
		Type:    models.NotificationTypeSystem,
	}
}

func TestCreate_DefaultsAndDelivers(t *testing.T) {
	h := newHarness(t, nil, Options{})

	notif, err := h.svc.Create(context.Background(), basicRequest())
	require.NoError(t, err)

	assert.Equal(t, []models.Channel{models.ChannelInApp}, notif.Channels)
	assert.Equal(t, models.NotificationSeverityMedium, notif.Severity)
	assert.Equal(t, models.RecipientAll, notif.RecipientType)
	assert.Equal(t, models.StatusDelivered, notif.Status)
	require.NotNil(t, notif.SentAt)
	assert.Equal(t, baseTime, *notif.SentAt)
	assert.Zero(t, notif.RetryCount)
	assert.Nil(t, notif.ErrorMessage)

	events := h.emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "*", events[0].room)
	assert.Equal(t, realtime.EventNotification, events[0].event)
	assert.Equal(t, notif.ID, events[0].payload["id"])
}

type tokenVerifier map[string]identity.Identity

func (v tokenVerifier) Verify(_ context.Context, token string) (identity.Identity, error) {
	if who, ok := v[token]; ok {
		return who, nil
	}
	return identity.Identity{}, identity.ErrInvalidToken
}

func TestCreate_RoleRecipientReachesRoleRoomOnly(t *testing.T) {
	registry := realtime.NewRegistry(tokenVerifier{
		"a1": {UserID: "1", Role: "admin"},
		"a2": {UserID: "2", Role: "admin"},
		"v1": {UserID: "3", Role: "viewer"},
	}, 8, zerolog.Nop())

	conns := map[string]*realtime.Connection{}
	for _, token := range []string{"a1", "a2", "v1"} {
		conn := registry.Register("")
		_, err := registry.Authenticate(context.Background(), conn.ID(), token)
		require.NoError(t, err)
		<-conn.Outbound()
		conns[token] = conn
	}

	repo := repository.NewMemoryRepository()
	svc := NewService(repo, nil, registry, zerolog.Nop(), Options{}, NewInAppSender(registry, zerolog.Nop()))

	req := basicRequest()
	req.Severity = models.NotificationSeverityMedium
	req.RecipientType = models.RecipientRole
	req.RecipientValue = strPtr("admin")
	notif, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, notif.Status)

	for _, token := range []string{"a1", "a2"} {
		select {
		case raw := <-conns[token].Outbound():
			var frame struct {
				Event string `json:"event"`
				Data  struct {
					ID string `json:"id"`
				} `json:"data"`
			}
			require.NoError(t, json.Unmarshal(raw, &frame))
			assert.Equal(t, realtime.EventNotification, frame.Event)
			assert.Equal(t, notif.ID, frame.Data.ID)
		default:
			t.Fatalf("connection %s received nothing", token)
		}
	}
	assert.Len(t, conns["v1"].Outbound(), 0)
}

func TestCreate_UserRecipientRoutesToUserRoom(t *testing.T) {
	h := newHarness(t, nil, Options{})

	req := basicRequest()
	req.RecipientID = strPtr(" 42 ")
	notif, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.RecipientUser, notif.RecipientType)
	require.NotNil(t, notif.RecipientID)
	assert.Equal(t, "42", *notif.RecipientID)
	events := h.emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "user:42", events[0].room)
}

func TestCreate_UnconfiguredEmailFails(t *testing.T) {
	h := newHarness(t, nil, Options{})

	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelEmail}
	notif, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, notif.Status)
	assert.Equal(t, 1, notif.RetryCount)
	require.NotNil(t, notif.ErrorMessage)
	assert.Contains(t, *notif.ErrorMessage, "email channel is not configured")
	assert.Empty(t, h.emitter.all())
}

func TestProcess_PartialFailureRetriesWholeNotification(t *testing.T) {
	mail := &fakeMail{err: errors.New("relay refused")}
	h := newHarness(t, mail, Options{})
	ctx := context.Background()

	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelInApp, models.ChannelEmail}
	notif, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, notif.Status)
	assert.Equal(t, 1, notif.RetryCount)
	assert.Contains(t, *notif.ErrorMessage, "relay refused")

	for attempt := 2; attempt <= models.MaxRetries; attempt++ {
		h.clock.Advance(5 * time.Minute)
		n, err := h.svc.RetryFailed(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := h.svc.Get(ctx, notif.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, attempt, got.RetryCount)
	}

	// Dead letter: no further attempts once the limit is reached.
	h.clock.Advance(5 * time.Minute)
	n, err := h.svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.MaxRetries, mail.count())
	assert.Len(t, h.emitter.all(), models.MaxRetries, "in-app is re-sent with every attempt")

	require.NoError(t, h.svc.Process(ctx, notif))
	got, err := h.svc.Get(ctx, notif.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxRetries, got.RetryCount)
}

func TestProcess_RetrySucceeds(t *testing.T) {
	mail := &fakeMail{err: errors.New("temporary")}
	h := newHarness(t, mail, Options{})
	ctx := context.Background()

	req := basicRequest()
	req.RecipientID = strPtr("42")
	req.Channels = []models.Channel{models.ChannelEmail}
	notif, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, notif.Status)

	mail.mu.Lock()
	mail.err = nil
	mail.mu.Unlock()

	n, err := h.svc.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Get(ctx, notif.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, 1, got.RetryCount, "retry_count never decreases")
	assert.Equal(t, []string{"jane@example.com"}, mail.sent[1].To)
}

func TestProcess_IsIdempotentOnDelivered(t *testing.T) {
	mail := &fakeMail{}
	h := newHarness(t, mail, Options{})
	ctx := context.Background()

	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelEmail}
	notif, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, notif.Status)

	h.clock.Advance(time.Minute)
	require.NoError(t, h.svc.Process(ctx, notif))
	n, err := h.svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := h.svc.Get(ctx, notif.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, baseTime, *got.SentAt, "sent_at is set once")
	assert.Equal(t, 1, mail.count())
}

func TestProcess_ChannelTimeout(t *testing.T) {
	mail := &fakeMail{block: true}
	h := newHarness(t, mail, Options{ChannelTimeout: 20 * time.Millisecond})

	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelEmail, models.ChannelInApp}
	notif, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.StatusFailed, notif.Status)
	assert.Contains(t, *notif.ErrorMessage, context.DeadlineExceeded.Error())
	assert.Len(t, h.emitter.all(), 1, "later channels still run")
}

func TestProcess_CancelledCallerStillCompletes(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	params, err := h.svc.prepare(basicRequest())
	require.NoError(t, err)
	notif, err := h.repo.Create(ctx, params)
	require.NoError(t, err)

	cancel()
	require.NoError(t, h.svc.Process(ctx, notif))
	got, err := h.svc.Get(context.Background(), notif.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
}

func TestScheduledNotificationWaitsForDispatch(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	req := basicRequest()
	at := baseTime.Add(10 * time.Minute)
	req.ScheduledAt = &at
	notif, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, notif.Status)
	assert.Empty(t, h.emitter.all())

	n, err := h.svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(10 * time.Minute)
	n, err = h.svc.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Get(ctx, notif.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
}

func TestSend_IgnoresSchedule(t *testing.T) {
	h := newHarness(t, nil, Options{})

	req := basicRequest()
	at := baseTime.Add(time.Hour)
	req.ScheduledAt = &at
	notif, err := h.svc.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, notif.Status)
	assert.Nil(t, notif.ScheduledAt)
}

func TestBroadcast_ForcesAllRecipients(t *testing.T) {
	h := newHarness(t, nil, Options{})

	req := basicRequest()
	req.RecipientType = models.RecipientUser
	req.RecipientID = strPtr("42")
	notif, err := h.svc.Broadcast(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.RecipientAll, notif.RecipientType)
	assert.Nil(t, notif.RecipientID)
	assert.Equal(t, "*", h.emitter.all()[0].room)
}

func TestExpireStale(t *testing.T) {
	mail := &fakeMail{}
	h := newHarness(t, mail, Options{})
	ctx := context.Background()

	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelEmail}
	past := baseTime.Add(-time.Hour)
	req.ExpiresAt = &past
	stale, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stale.Status, "expired records are never claimed")

	delivered, err := h.svc.Create(ctx, basicRequest())
	require.NoError(t, err)

	n, err := h.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.Zero(t, mail.count(), "expiry never calls a channel sender")

	got, err = h.svc.Get(ctx, delivered.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)

	n, err = h.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkRead(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	notif, err := h.svc.Create(ctx, basicRequest())
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	read, err := h.svc.MarkRead(ctx, notif.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, read.Status)
	require.NotNil(t, read.ReadAt)
	readAt := *read.ReadAt

	h.clock.Advance(time.Minute)
	_, err = h.svc.MarkRead(ctx, notif.ID)
	assert.ErrorIs(t, err, repository.ErrNotEligible)
	got, err := h.svc.Get(ctx, notif.ID)
	require.NoError(t, err)
	assert.Equal(t, readAt, *got.ReadAt, "read_at is set exactly once")

	_, err = h.svc.MarkRead(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = h.svc.MarkRead(ctx, "6f1c2d4e-0000-4000-8000-000000000000")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	req := basicRequest()
	future := baseTime.Add(time.Hour)
	req.ScheduledAt = &future
	pending, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = h.svc.MarkRead(ctx, pending.ID)
	assert.ErrorIs(t, err, repository.ErrNotEligible)
}

func TestUnreadAndMarkAllRead(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		req := basicRequest()
		req.RecipientID = strPtr("42")
		_, err := h.svc.Create(ctx, req)
		require.NoError(t, err)
		h.clock.Advance(time.Second)
	}
	_, err := h.svc.Create(ctx, basicRequest())
	require.NoError(t, err)

	unread, err := h.svc.Unread(ctx, strPtr("42"))
	require.NoError(t, err)
	assert.Len(t, unread, 3)
	assert.True(t, unread[0].CreatedAt.After(unread[2].CreatedAt), "newest first")

	all, err := h.svc.Unread(ctx, strPtr(" "))
	require.NoError(t, err)
	assert.Len(t, all, 4)

	updated, err := h.svc.MarkAllRead(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, 3, updated)

	unread, err = h.svc.Unread(ctx, strPtr("42"))
	require.NoError(t, err)
	assert.Empty(t, unread)

	_, err = h.svc.MarkAllRead(ctx, "")
	var verrs ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestCreate_Validation(t *testing.T) {
	long := make([]rune, models.MaxTitleLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"missing title", func(r *CreateRequest) { r.Title = "  " }, "title"},
		{"title too long", func(r *CreateRequest) { r.Title = string(long) }, "title"},
		{"missing message", func(r *CreateRequest) { r.Message = "" }, "message"},
		{"bad type", func(r *CreateRequest) { r.Type = "weather" }, "type"},
		{"bad severity", func(r *CreateRequest) { r.Severity = "urgent" }, "severity"},
		{"bad channel", func(r *CreateRequest) { r.Channels = []models.Channel{"fax"} }, "channels"},
		{"user without id", func(r *CreateRequest) { r.RecipientType = models.RecipientUser }, "recipient_id"},
		{"role without value", func(r *CreateRequest) { r.RecipientType = models.RecipientRole }, "recipient_value"},
		{"role with id", func(r *CreateRequest) {
			r.RecipientType = models.RecipientRole
			r.RecipientValue = strPtr("admin")
			r.RecipientID = strPtr("1")
		}, "recipient_id"},
		{"bad recipient type", func(r *CreateRequest) { r.RecipientType = "team" }, "recipient_type"},
		{"unknown template", func(r *CreateRequest) { r.TemplateID = strPtr("nope") }, "template_id"},
		{"expiry before schedule", func(r *CreateRequest) {
			at := baseTime.Add(time.Hour)
			exp := baseTime
			r.ScheduledAt, r.ExpiresAt = &at, &exp
		}, "expires_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil, Options{})
			req := basicRequest()
			tt.mutate(&req)

			_, err := h.svc.Create(context.Background(), req)
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)

			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)

			list, total, err := h.svc.List(context.Background(), repository.ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, list, "invalid requests are never stored")
			assert.Zero(t, total)
		})
	}
}

func TestCreate_TemplateDefaults(t *testing.T) {
	mail := &fakeMail{}
	h := newHarness(t, mail, Options{})

	notif, err := h.svc.Create(context.Background(), CreateRequest{
		Type:       models.NotificationTypeViolation,
		TemplateID: strPtr(template.ViolationDetected),
		Metadata: map[string]any{
			"violation_type": "no_helmet",
			"camera_name":    "Gate 3",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []models.Channel{models.ChannelInApp, models.ChannelEmail}, notif.Channels)
	assert.Equal(t, models.NotificationSeverityHigh, notif.Severity)
	assert.Equal(t, models.StatusDelivered, notif.Status)

	inApp := h.emitter.all()[0].payload
	assert.Equal(t, "A no_helmet violation has been detected on camera Gate 3 with {{confidence}}% confidence.", inApp["message"])

	require.Equal(t, 1, mail.count())
	assert.ElementsMatch(t, []string{"jane@example.com", "ops@example.com"}, mail.sent[0].To)
	assert.Contains(t, mail.sent[0].HTML, "Gate 3")
	assert.Contains(t, mail.sent[0].Subject, "Safety Violation Detected")
}

func TestNotifyViolation(t *testing.T) {
	h := newHarness(t, &fakeMail{}, Options{})

	notif, err := h.svc.NotifyViolation(context.Background(), Violation{
		ID:         "v-9",
		Type:       "no_vest",
		CameraID:   "cam-1",
		Confidence: 87.5,
	})
	require.NoError(t, err)

	assert.Equal(t, models.NotificationTypeViolation, notif.Type)
	assert.Equal(t, models.NotificationSeverityHigh, notif.Severity)
	assert.Equal(t, models.RecipientAll, notif.RecipientType)
	assert.Equal(t, "v-9", notif.Metadata["violation_id"])

	events := h.emitter.all()
	require.Len(t, events, 2)
	assert.Equal(t, realtime.RoomViolations, events[0].room)
	assert.Equal(t, realtime.EventViolationDetected, events[0].event)
	assert.Equal(t, "no_vest", events[0].payload["type"])
	assert.Equal(t, realtime.EventNotification, events[1].event)

	_, err = h.svc.NotifyViolation(context.Background(), Violation{})
	var verrs ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestNotifyCameraStatus(t *testing.T) {
	h := newHarness(t, nil, Options{})

	notif, err := h.svc.NotifyCameraStatus(context.Background(), Camera{
		ID: "7", Name: "Dock", Location: "North yard", Status: "Offline",
	})
	require.NoError(t, err)

	assert.Equal(t, models.RecipientRole, notif.RecipientType)
	assert.Equal(t, "admin", *notif.RecipientValue)
	assert.Equal(t, "Camera Offline", notif.Title)
	assert.Equal(t, models.StatusDelivered, notif.Status)

	events := h.emitter.all()
	require.Len(t, events, 2)
	assert.Equal(t, "camera:7", events[0].room)
	assert.Equal(t, "offline", events[0].payload["status"])
	assert.Equal(t, "role:admin", events[1].room)
	assert.Equal(t, "Camera Dock at North yard is now offline.", events[1].payload["message"])
}

func TestSystemStatusAndMaintenance(t *testing.T) {
	h := newHarness(t, nil, Options{})

	assert.Equal(t, 1, h.svc.NotifySystemStatus(context.Background(), map[string]any{"database": "ok"}))
	assert.Equal(t, 1, h.svc.BroadcastMaintenance(context.Background(), true))

	events := h.emitter.all()
	require.Len(t, events, 2)
	assert.Equal(t, realtime.RoomSystem, events[0].room)
	assert.Equal(t, "ok", events[0].payload["database"])
	assert.Contains(t, events[0].payload, "timestamp")
	assert.Equal(t, realtime.EventMaintenanceMode, events[1].event)
	assert.Equal(t, true, events[1].payload["maintenance_mode"])
}

func TestChannels(t *testing.T) {
	h := newHarness(t, &fakeMail{}, Options{})

	enabled := map[models.Channel]bool{}
	for _, info := range h.svc.Channels() {
		enabled[info.ID] = info.Enabled
		assert.NotEmpty(t, info.Name)
	}
	assert.Equal(t, map[models.Channel]bool{
		models.ChannelInApp: true,
		models.ChannelEmail: true,
		models.ChannelSMS:   false,
		models.ChannelPush:  false,
	}, enabled)
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	_, err := h.svc.Create(ctx, basicRequest())
	require.NoError(t, err)
	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelSMS}
	_, err = h.svc.Create(ctx, req)
	require.NoError(t, err)

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Unread)
	assert.Equal(t, 1, stats.ByStatus[models.StatusFailed])
	assert.Equal(t, 1, stats.ByStatus[models.StatusDelivered])
}

// stuckGateway never returns until released, whatever the context says.
type stuckGateway struct {
	release chan struct{}
}

func (g *stuckGateway) Send(context.Context, string, string) error {
	<-g.release
	return nil
}

func TestProcess_ChannelTimeoutWithTransportIgnoringContext(t *testing.T) {
	gateway := &stuckGateway{release: make(chan struct{})}
	t.Cleanup(func() { close(gateway.release) })

	repo := repository.NewMemoryRepository()
	svc := newService(repo, nil, &fakeEmitter{}, zerolog.Nop(), Options{ChannelTimeout: 20 * time.Millisecond},
		NewSMSSender(gateway, testContacts, zerolog.Nop()))

	req := basicRequest()
	req.Channels = []models.Channel{models.ChannelSMS}
	req.RecipientID = strPtr("42")

	start := time.Now()
	notif, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.StatusFailed, notif.Status)
	require.NotNil(t, notif.ErrorMessage)
	assert.Contains(t, *notif.ErrorMessage, "sms: "+context.DeadlineExceeded.Error())
}

func TestSweepCountsOnlyClaimedRecords(t *testing.T) {
	h := newHarness(t, nil, Options{})
	ctx := context.Background()

	delivered, err := h.svc.Create(ctx, basicRequest())
	require.NoError(t, err)
	require.Equal(t, models.StatusDelivered, delivered.Status)

	params, err := h.svc.prepare(basicRequest())
	require.NoError(t, err)
	pending, err := h.repo.Create(ctx, params)
	require.NoError(t, err)

	// A stale batch: the first record was already handled by another caller.
	assert.Equal(t, 1, h.svc.processBatch(ctx, "dispatch-pending", []models.Notification{delivered, pending}))
	assert.Zero(t, h.svc.processBatch(ctx, "dispatch-pending", []models.Notification{pending}))

	got, err := h.svc.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
}

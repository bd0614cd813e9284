package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stanstork/herald/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	Get(ctx context.Context, id string) (models.Notification, error)
	List(ctx context.Context, filter ListFilter) ([]models.Notification, int, error)

	FindPending(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	FindRetryable(ctx context.Context, now time.Time, maxRetries, limit int) ([]models.Notification, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
	FindUnread(ctx context.Context, recipientID *string) ([]models.Notification, error)

	// ClaimForDelivery atomically moves a deliverable record to sent.
	ClaimForDelivery(ctx context.Context, id string, now time.Time, maxRetries int) (models.Notification, error)
	// CompleteDelivery finishes an attempt started by ClaimForDelivery. A nil
	// errMsg marks the record delivered, otherwise failed.
	CompleteDelivery(ctx context.Context, id string, errMsg *string, now time.Time) (models.Notification, error)
	MarkExpired(ctx context.Context, id string, now time.Time) (models.Notification, error)
	MarkRead(ctx context.Context, id string, now time.Time) (models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID string, now time.Time) (int, error)

	Stats(ctx context.Context, now time.Time) (models.NotificationStats, error)
	Ping(ctx context.Context) error
}

type CreateNotificationParams struct {
	Title          string
	Message        string
	Type           models.NotificationType
	Severity       models.NotificationSeverity
	Channels       []models.Channel
	RecipientType  models.RecipientType
	RecipientID    *string
	RecipientValue *string
	Metadata       map[string]any
	TemplateID     *string
	ScheduledAt    *time.Time
	ExpiresAt      *time.Time
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

const notificationColumns = `id, title, message, type, severity, status, channels, recipient_type,
	recipient_id, recipient_value, metadata, template_id, scheduled_at, sent_at, read_at,
	expires_at, retry_count, error_message, created_at, updated_at`

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	query := `
		INSERT INTO notifications (title, message, type, severity, channels, recipient_type,
			recipient_id, recipient_value, metadata, template_id, scheduled_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + notificationColumns

	var metadata interface{}
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, errors.Wrap(err, "marshal metadata")
		}
		metadata = bytes
	}

	row := r.db.QueryRowContext(ctx, query,
		params.Title,
		params.Message,
		params.Type,
		params.Severity,
		pq.Array(channelStrings(params.Channels)),
		params.RecipientType,
		nullString(params.RecipientID),
		nullString(params.RecipientValue),
		metadata,
		nullString(params.TemplateID),
		params.ScheduledAt,
		params.ExpiresAt,
	)
	notif, err := scanNotification(row)
	if err != nil {
		return models.Notification{}, errors.Wrap(err, "failed to insert notification")
	}
	return notif, nil
}

func (r *notificationRepository) Get(ctx context.Context, id string) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	notif, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, ErrNotFound
	}
	if err != nil {
		return models.Notification{}, errors.Wrapf(err, "failed to fetch notification %s", id)
	}
	return notif, nil
}

func (r *notificationRepository) List(ctx context.Context, filter ListFilter) ([]models.Notification, int, error) {
	filter = filter.Normalize()
	where, args := filter.whereClause()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count notifications")
	}

	query := fmt.Sprintf(`SELECT %s FROM notifications WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		notificationColumns, where, filter.SortBy, filter.SortOrder, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	notifications, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to list notifications")
	}
	return notifications, total, nil
}

func (r *notificationRepository) FindPending(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	notifications, err := r.query(ctx, query, now, limit)
	return notifications, errors.Wrap(err, "failed to find pending notifications")
}

func (r *notificationRepository) FindRetryable(ctx context.Context, now time.Time, maxRetries, limit int) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'failed' AND retry_count < $1 AND (expires_at IS NULL OR expires_at >= $2)
		ORDER BY updated_at ASC
		LIMIT $3
	`
	notifications, err := r.query(ctx, query, maxRetries, now, limit)
	return notifications, errors.Wrap(err, "failed to find retryable notifications")
}

func (r *notificationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE expires_at < $1 AND status IN ('pending', 'sent')
		ORDER BY expires_at ASC
		LIMIT $2
	`
	notifications, err := r.query(ctx, query, now, limit)
	return notifications, errors.Wrap(err, "failed to find expired notifications")
}

func (r *notificationRepository) FindUnread(ctx context.Context, recipientID *string) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status IN ('sent', 'delivered') AND read_at IS NULL
			AND ($1::text IS NULL OR recipient_id = $1)
		ORDER BY created_at DESC
	`
	notifications, err := r.query(ctx, query, nullString(recipientID))
	return notifications, errors.Wrap(err, "failed to find unread notifications")
}

func (r *notificationRepository) ClaimForDelivery(ctx context.Context, id string, now time.Time, maxRetries int) (models.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = $2, updated_at = $2
		WHERE id = $1
			AND (
				(status = 'pending' AND (scheduled_at IS NULL OR scheduled_at <= $2))
				OR (status = 'failed' AND retry_count < $3)
			)
			AND (expires_at IS NULL OR expires_at >= $2)
		RETURNING ` + notificationColumns
	return r.conditionalUpdate(ctx, id, "claim", query, id, now, maxRetries)
}

func (r *notificationRepository) CompleteDelivery(ctx context.Context, id string, errMsg *string, now time.Time) (models.Notification, error) {
	if errMsg == nil {
		query := `
			UPDATE notifications
			SET status = 'delivered', updated_at = $2
			WHERE id = $1 AND status = 'sent'
			RETURNING ` + notificationColumns
		return r.conditionalUpdate(ctx, id, "complete", query, id, now)
	}

	query := `
		UPDATE notifications
		SET status = 'failed', retry_count = retry_count + 1, error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'sent'
		RETURNING ` + notificationColumns
	return r.conditionalUpdate(ctx, id, "fail", query, id, *errMsg, now)
}

func (r *notificationRepository) MarkExpired(ctx context.Context, id string, now time.Time) (models.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'expired', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'sent') AND expires_at < $2
		RETURNING ` + notificationColumns
	return r.conditionalUpdate(ctx, id, "expire", query, id, now)
}

func (r *notificationRepository) MarkRead(ctx context.Context, id string, now time.Time) (models.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'read', read_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('sent', 'delivered')
		RETURNING ` + notificationColumns
	return r.conditionalUpdate(ctx, id, "mark read", query, id, now)
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID string, now time.Time) (int, error) {
	const query = `
		UPDATE notifications
		SET status = 'read', read_at = $2, updated_at = $2
		WHERE recipient_id = $1 AND status IN ('sent', 'delivered')
	`
	res, err := r.db.ExecContext(ctx, query, strings.TrimSpace(recipientID), now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to mark notifications as read")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return int(affected), nil
}

func (r *notificationRepository) Stats(ctx context.Context, now time.Time) (models.NotificationStats, error) {
	stats := models.NewNotificationStats()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	const totals = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('sent', 'delivered') AND read_at IS NULL),
			COUNT(*) FILTER (WHERE created_at >= $1)
		FROM notifications
	`
	if err := r.db.QueryRowContext(ctx, totals, startOfDay).Scan(&stats.Total, &stats.Unread, &stats.Today); err != nil {
		return stats, errors.Wrap(err, "failed to count notifications")
	}

	for column, assign := range map[string]func(key string, count int){
		"type":     func(k string, c int) { stats.ByType[models.NotificationType(k)] = c },
		"severity": func(k string, c int) { stats.BySeverity[models.NotificationSeverity(k)] = c },
		"status":   func(k string, c int) { stats.ByStatus[models.NotificationStatus(k)] = c },
	} {
		if err := r.countBy(ctx, column, assign); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (r *notificationRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *notificationRepository) countBy(ctx context.Context, column string, assign func(string, int)) error {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s, COUNT(*) FROM notifications GROUP BY %s`, column, column))
	if err != nil {
		return errors.Wrapf(err, "failed to group notifications by %s", column)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			count int
		)
		if err := rows.Scan(&key, &count); err != nil {
			return errors.Wrapf(err, "failed to scan %s counts", column)
		}
		assign(key, count)
	}
	return rows.Err()
}

// conditionalUpdate runs an UPDATE ... RETURNING guarded by a state
// predicate. When no row matches it tells a missing record apart from one
// in the wrong state.
func (r *notificationRepository) conditionalUpdate(ctx context.Context, id, op, query string, args ...any) (models.Notification, error) {
	notif, err := scanNotification(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return notif, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, errors.Wrapf(err, "failed to %s notification %s", op, id)
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1)`, id).Scan(&exists); err != nil {
		return models.Notification{}, errors.Wrapf(err, "failed to check notification %s", id)
	}
	if !exists {
		return models.Notification{}, ErrNotFound
	}
	return models.Notification{}, ErrNotEligible
}

func (r *notificationRepository) query(ctx context.Context, query string, args ...any) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif          models.Notification
		channels       []string
		recipientID    sql.NullString
		recipientValue sql.NullString
		metadataRaw    []byte
		templateID     sql.NullString
		scheduledAt    sql.NullTime
		sentAt         sql.NullTime
		readAt         sql.NullTime
		expiresAt      sql.NullTime
		errorMessage   sql.NullString
	)

	if err := scanner.Scan(
		&notif.ID,
		&notif.Title,
		&notif.Message,
		&notif.Type,
		&notif.Severity,
		&notif.Status,
		pq.Array(&channels),
		&notif.RecipientType,
		&recipientID,
		&recipientValue,
		&metadataRaw,
		&templateID,
		&scheduledAt,
		&sentAt,
		&readAt,
		&expiresAt,
		&notif.RetryCount,
		&errorMessage,
		&notif.CreatedAt,
		&notif.UpdatedAt,
	); err != nil {
		return models.Notification{}, err
	}

	notif.Channels = make([]models.Channel, len(channels))
	for i, ch := range channels {
		notif.Channels[i] = models.Channel(ch)
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &notif.Metadata); err != nil {
			return models.Notification{}, errors.Wrap(err, "unmarshal metadata")
		}
	}
	notif.RecipientID = stringPtr(recipientID)
	notif.RecipientValue = stringPtr(recipientValue)
	notif.TemplateID = stringPtr(templateID)
	notif.ErrorMessage = stringPtr(errorMessage)
	notif.ScheduledAt = timePtr(scheduledAt)
	notif.SentAt = timePtr(sentAt)
	notif.ReadAt = timePtr(readAt)
	notif.ExpiresAt = timePtr(expiresAt)

	return notif, nil
}

func channelStrings(channels []models.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func nullString(s *string) interface{} {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return strings.TrimSpace(*s)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

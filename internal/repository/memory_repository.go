package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stanstork/herald/internal/models"
)

// memoryRepository keeps notifications in process memory. It backs the
// service when no database is configured and serves as the store in tests.
type memoryRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Notification
	now   func() time.Time
}

func NewMemoryRepository() NotificationRepository {
	return newMemoryRepository(time.Now)
}

// NewMemoryRepositoryWithClock stamps created_at/updated_at from clock.
func NewMemoryRepositoryWithClock(clock func() time.Time) NotificationRepository {
	return newMemoryRepository(clock)
}

func newMemoryRepository(clock func() time.Time) *memoryRepository {
	return &memoryRepository{
		items: make(map[string]*models.Notification),
		now:   clock,
	}
}

func (r *memoryRepository) Create(_ context.Context, params CreateNotificationParams) (models.Notification, error) {
	now := r.now()
	notif := models.Notification{
		ID:             uuid.NewString(),
		Title:          params.Title,
		Message:        params.Message,
		Type:           params.Type,
		Severity:       params.Severity,
		Status:         models.StatusPending,
		Channels:       append([]models.Channel(nil), params.Channels...),
		RecipientType:  params.RecipientType,
		RecipientID:    trimmedPtr(params.RecipientID),
		RecipientValue: trimmedPtr(params.RecipientValue),
		Metadata:       copyMetadata(params.Metadata),
		TemplateID:     trimmedPtr(params.TemplateID),
		ScheduledAt:    copyTime(params.ScheduledAt),
		ExpiresAt:      copyTime(params.ExpiresAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.mu.Lock()
	r.items[notif.ID] = &notif
	r.mu.Unlock()

	return clone(&notif), nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (models.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	notif, ok := r.items[id]
	if !ok {
		return models.Notification{}, ErrNotFound
	}
	return clone(notif), nil
}

func (r *memoryRepository) List(_ context.Context, filter ListFilter) ([]models.Notification, int, error) {
	filter = filter.Normalize()
	matched := r.selectWhere(filter.matches)
	sortNotifications(matched, filter.SortBy, filter.SortOrder == "ASC")

	total := len(matched)
	if filter.Offset >= total {
		return []models.Notification{}, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (r *memoryRepository) FindPending(_ context.Context, now time.Time, limit int) ([]models.Notification, error) {
	matched := r.selectWhere(func(n models.Notification) bool {
		return n.Status == models.StatusPending && n.Due(now)
	})
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	return head(matched, limit), nil
}

func (r *memoryRepository) FindRetryable(_ context.Context, now time.Time, maxRetries, limit int) ([]models.Notification, error) {
	matched := r.selectWhere(func(n models.Notification) bool {
		return n.Status == models.StatusFailed && n.RetryCount < maxRetries && !n.Expired(now)
	})
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].UpdatedAt.Before(matched[j].UpdatedAt) })
	return head(matched, limit), nil
}

func (r *memoryRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]models.Notification, error) {
	matched := r.selectWhere(func(n models.Notification) bool {
		return n.Expired(now) && (n.Status == models.StatusPending || n.Status == models.StatusSent)
	})
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ExpiresAt.Before(*matched[j].ExpiresAt) })
	return head(matched, limit), nil
}

func (r *memoryRepository) FindUnread(_ context.Context, recipientID *string) ([]models.Notification, error) {
	want := ""
	if recipientID != nil {
		want = strings.TrimSpace(*recipientID)
	}
	matched := r.selectWhere(func(n models.Notification) bool {
		if !n.Status.Readable() || n.ReadAt != nil {
			return false
		}
		return want == "" || (n.RecipientID != nil && *n.RecipientID == want)
	})
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return matched, nil
}

func (r *memoryRepository) ClaimForDelivery(_ context.Context, id string, now time.Time, maxRetries int) (models.Notification, error) {
	return r.update(id, func(n *models.Notification) bool {
		if !n.Deliverable(now, maxRetries) {
			return false
		}
		n.Status = models.StatusSent
		n.SentAt = &now
		n.UpdatedAt = now
		return true
	})
}

func (r *memoryRepository) CompleteDelivery(_ context.Context, id string, errMsg *string, now time.Time) (models.Notification, error) {
	return r.update(id, func(n *models.Notification) bool {
		if n.Status != models.StatusSent {
			return false
		}
		if errMsg == nil {
			n.Status = models.StatusDelivered
		} else {
			msg := *errMsg
			n.Status = models.StatusFailed
			n.RetryCount++
			n.ErrorMessage = &msg
		}
		n.UpdatedAt = now
		return true
	})
}

func (r *memoryRepository) MarkExpired(_ context.Context, id string, now time.Time) (models.Notification, error) {
	return r.update(id, func(n *models.Notification) bool {
		if !n.Expired(now) || !n.Status.CanTransitionTo(models.StatusExpired) {
			return false
		}
		n.Status = models.StatusExpired
		n.UpdatedAt = now
		return true
	})
}

func (r *memoryRepository) MarkRead(_ context.Context, id string, now time.Time) (models.Notification, error) {
	return r.update(id, func(n *models.Notification) bool {
		if !n.Status.Readable() {
			return false
		}
		n.Status = models.StatusRead
		n.ReadAt = &now
		n.UpdatedAt = now
		return true
	})
}

func (r *memoryRepository) MarkAllRead(_ context.Context, recipientID string, now time.Time) (int, error) {
	recipientID = strings.TrimSpace(recipientID)

	r.mu.Lock()
	defer r.mu.Unlock()

	updated := 0
	for _, n := range r.items {
		if n.RecipientID == nil || *n.RecipientID != recipientID || !n.Status.Readable() {
			continue
		}
		readAt := now
		n.Status = models.StatusRead
		n.ReadAt = &readAt
		n.UpdatedAt = now
		updated++
	}
	return updated, nil
}

func (r *memoryRepository) Stats(_ context.Context, now time.Time) (models.NotificationStats, error) {
	stats := models.NewNotificationStats()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.items {
		stats.Total++
		if n.Status.Readable() && n.ReadAt == nil {
			stats.Unread++
		}
		if !n.CreatedAt.Before(startOfDay) {
			stats.Today++
		}
		stats.ByType[n.Type]++
		stats.BySeverity[n.Severity]++
		stats.ByStatus[n.Status]++
	}
	return stats, nil
}

func (r *memoryRepository) Ping(context.Context) error {
	return nil
}

// update applies mutate under the write lock. mutate returns false when the
// record is not in a state that permits the change.
func (r *memoryRepository) update(id string, mutate func(*models.Notification) bool) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notif, ok := r.items[id]
	if !ok {
		return models.Notification{}, ErrNotFound
	}
	if !mutate(notif) {
		return models.Notification{}, ErrNotEligible
	}
	return clone(notif), nil
}

func (r *memoryRepository) selectWhere(pred func(models.Notification) bool) []models.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Notification
	for _, n := range r.items {
		if pred(*n) {
			out = append(out, clone(n))
		}
	}
	return out
}

func sortNotifications(items []models.Notification, column string, asc bool) {
	less := func(a, b models.Notification) bool {
		switch column {
		case "title":
			return a.Title < b.Title
		case "type":
			return a.Type < b.Type
		case "severity":
			return a.Severity < b.Severity
		case "status":
			return a.Status < b.Status
		}
		return a.CreatedAt.Before(b.CreatedAt)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	sort.SliceStable(items, func(i, j int) bool {
		if asc {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}

func head(items []models.Notification, limit int) []models.Notification {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func clone(n *models.Notification) models.Notification {
	out := *n
	out.Channels = append([]models.Channel(nil), n.Channels...)
	out.Metadata = copyMetadata(n.Metadata)
	out.RecipientID = copyString(n.RecipientID)
	out.RecipientValue = copyString(n.RecipientValue)
	out.TemplateID = copyString(n.TemplateID)
	out.ErrorMessage = copyString(n.ErrorMessage)
	out.ScheduledAt = copyTime(n.ScheduledAt)
	out.SentAt = copyTime(n.SentAt)
	out.ReadAt = copyTime(n.ReadAt)
	out.ExpiresAt = copyTime(n.ExpiresAt)
	return out
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func trimmedPtr(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

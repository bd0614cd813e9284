package notification

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/stanstork/herald/internal/models"
	"github.com/stanstork/herald/internal/repository"
)

// DispatchPending processes due pending notifications, oldest first.
func (s *service) DispatchPending(ctx context.Context) (int, error) {
	batch, err := s.repo.FindPending(ctx, s.now(), s.opts.BatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "find pending notifications")
	}
	return s.processBatch(ctx, "dispatch-pending", batch), nil
}

// RetryFailed re-attempts failed notifications below the retry limit.
func (s *service) RetryFailed(ctx context.Context) (int, error) {
	batch, err := s.repo.FindRetryable(ctx, s.now(), s.opts.MaxRetries, s.opts.BatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "find retryable notifications")
	}
	return s.processBatch(ctx, "retry-failed", batch), nil
}

// ExpireStale moves overdue pending and sent notifications to expired
// without touching any channel.
func (s *service) ExpireStale(ctx context.Context) (int, error) {
	now := s.now()
	batch, err := s.repo.FindExpired(ctx, now, s.opts.BatchSize)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "find expired notifications")
	}

	expired := 0
	for _, notif := range batch {
		if ctx.Err() != nil {
			break
		}
		_, err := s.repo.MarkExpired(ctx, notif.ID, now)
		switch {
		case errors.Is(err, repository.ErrNotEligible), errors.Is(err, repository.ErrNotFound):
			s.logger.Debug().Str("notification_id", notif.ID).Msg("notification no longer expirable")
		case err != nil:
			s.logger.Error().Err(err).Str("task", "expire-stale").Str("notification_id", notif.ID).Msg("failed to expire notification")
		default:
			expired++
		}
	}
	if expired > 0 {
		s.logger.Info().Int("count", expired).Msg("expired notifications")
	}
	return expired, nil
}

// processBatch returns the number of records this pass actually attempted.
// Records claimed elsewhere in the meantime are skipped and not counted.
func (s *service) processBatch(ctx context.Context, task string, batch []models.Notification) int {
	processed := 0
	for _, notif := range batch {
		if ctx.Err() != nil {
			break
		}
		attempted, err := s.process(ctx, notif)
		if err != nil {
			s.logger.Error().Err(err).Str("task", task).Str("notification_id", notif.ID).Msg("failed to process notification")
			continue
		}
		if attempted {
			processed++
		}
	}
	if len(batch) > 0 {
		s.logger.Info().Str("task", task).Int("batch", len(batch)).Int("processed", processed).Msg("sweep finished")
	}
	return processed
}

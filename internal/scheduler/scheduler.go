package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
	"golang.org/x/sync/errgroup"
)

// Sweeper is the set of periodic maintenance passes over the store.
type Sweeper interface {
	DispatchPending(ctx context.Context) (int, error)
	RetryFailed(ctx context.Context) (int, error)
	ExpireStale(ctx context.Context) (int, error)
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) (int, error)
}

// Scheduler drives each sweep on its own ticker. Ticks of one task never
// overlap; different tasks may run concurrently.
type Scheduler struct {
	tasks      []task
	runOnStart bool
	logger     zerolog.Logger
}

func New(sweeper Sweeper, cfg config.SchedulerConfig, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		tasks: []task{
			{name: "dispatch-pending", interval: cfg.DispatchInterval, run: sweeper.DispatchPending},
			{name: "retry-failed", interval: cfg.RetryInterval, run: sweeper.RetryFailed},
			{name: "expire-stale", interval: cfg.ExpireInterval, run: sweeper.ExpireStale},
		},
		runOnStart: cfg.RunOnStart,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		if t.interval <= 0 {
			s.logger.Warn().Str("task", t.name).Msg("task disabled, interval not set")
			continue
		}
		t := t
		g.Go(func() error {
			s.loop(ctx, t)
			return nil
		})
	}
	s.logger.Info().Int("tasks", len(s.tasks)).Bool("run_on_start", s.runOnStart).Msg("scheduler started")
	err := g.Wait()
	s.logger.Info().Msg("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	if s.runOnStart {
		s.tick(ctx, t)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t task) {
	start := time.Now()
	n, err := t.run(ctx)
	if err != nil {
		// keep ticking, the next pass picks the records up again
		s.logger.Error().Err(err).Str("task", t.name).Msg("scheduled task failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Str("task", t.name).Int("count", n).Dur("duration", time.Since(start)).Msg("scheduled task finished")
	}
}

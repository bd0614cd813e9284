package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	dispatch atomic.Int32
	retry    atomic.Int32
	expire   atomic.Int32

	mu       sync.Mutex
	inflight int
	overlap  bool
	delay    time.Duration
	retryErr error
}

func (f *fakeSweeper) enter() {
	f.mu.Lock()
	f.inflight++
	if f.inflight > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	time.Sleep(f.delay)
	f.mu.Lock()
	f.inflight--
	f.mu.Unlock()
}

func (f *fakeSweeper) DispatchPending(context.Context) (int, error) {
	f.enter()
	f.dispatch.Add(1)
	return 1, nil
}

func (f *fakeSweeper) RetryFailed(context.Context) (int, error) {
	f.retry.Add(1)
	return 0, f.retryErr
}

func (f *fakeSweeper) ExpireStale(context.Context) (int, error) {
	f.expire.Add(1)
	return 0, nil
}

func runFor(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(d + time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}

func TestScheduler_RunsEachTask(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := New(sweeper, config.SchedulerConfig{
		DispatchInterval: 10 * time.Millisecond,
		RetryInterval:    20 * time.Millisecond,
		ExpireInterval:   time.Hour,
	}, zerolog.Nop())

	runFor(t, s, 150*time.Millisecond)

	assert.GreaterOrEqual(t, sweeper.dispatch.Load(), int32(3))
	assert.GreaterOrEqual(t, sweeper.retry.Load(), int32(2))
	assert.Zero(t, sweeper.expire.Load(), "hourly task never ticks in the window")
}

func TestScheduler_RunOnStart(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := New(sweeper, config.SchedulerConfig{
		DispatchInterval: time.Hour,
		RetryInterval:    time.Hour,
		ExpireInterval:   time.Hour,
		RunOnStart:       true,
	}, zerolog.Nop())

	runFor(t, s, 50*time.Millisecond)

	assert.Equal(t, int32(1), sweeper.dispatch.Load())
	assert.Equal(t, int32(1), sweeper.retry.Load())
	assert.Equal(t, int32(1), sweeper.expire.Load())
}

func TestScheduler_TicksOfOneTaskDoNotOverlap(t *testing.T) {
	sweeper := &fakeSweeper{delay: 15 * time.Millisecond}
	s := New(sweeper, config.SchedulerConfig{
		DispatchInterval: time.Millisecond,
		RetryInterval:    time.Hour,
		ExpireInterval:   time.Hour,
	}, zerolog.Nop())

	runFor(t, s, 100*time.Millisecond)

	assert.Positive(t, sweeper.dispatch.Load())
	sweeper.mu.Lock()
	defer sweeper.mu.Unlock()
	assert.False(t, sweeper.overlap)
}

func TestScheduler_LogsErrorsAndKeepsGoing(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &fakeSweeper{retryErr: errors.New("store unavailable")}
	s := New(sweeper, config.SchedulerConfig{
		DispatchInterval: time.Hour,
		RetryInterval:    10 * time.Millisecond,
		ExpireInterval:   time.Hour,
	}, zerolog.New(&syncWriter{w: &buf}))

	runFor(t, s, 80*time.Millisecond)

	assert.GreaterOrEqual(t, sweeper.retry.Load(), int32(2))
	out := buf.String()
	assert.Contains(t, out, `"task":"retry-failed"`)
	assert.Contains(t, out, "store unavailable")
}

func TestScheduler_SkipsDisabledTasks(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := New(sweeper, config.SchedulerConfig{
		DispatchInterval: 0,
		RetryInterval:    time.Hour,
		ExpireInterval:   time.Hour,
		RunOnStart:       true,
	}, zerolog.Nop())

	runFor(t, s, 30*time.Millisecond)

	assert.Zero(t, sweeper.dispatch.Load())
	assert.Equal(t, int32(1), sweeper.retry.Load())
}

type syncWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

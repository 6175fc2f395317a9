package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// cycleLockKey guards against two replicas running a cycle at once.
const cycleLockKey = "oracle:cycle"

// scheduleParser accepts standard five-field expressions, an optional
// leading seconds field, and descriptors such as "@every 10m".
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: parse schedule %q: %w", spec, err)
	}
	return s, nil
}

// CycleRunner runs a single resolution cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (domain.CycleResult, error)
}

// Scheduler triggers cycles on a cron schedule and on demand. At most one
// cycle runs at a time per process, and per deployment when a LockManager
// is configured.
type Scheduler struct {
	runner   CycleRunner
	spec     string
	schedule cron.Schedule
	timeout  time.Duration
	lock     domain.LockManager
	lockTTL  time.Duration
	logger   *slog.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *domain.CycleResult
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithCycleTimeout bounds each cycle. Markets not reached before the
// deadline wait for the next trigger.
func WithCycleTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.timeout = d }
}

// WithLock enables cross-replica exclusion.
func WithLock(lock domain.LockManager) SchedulerOption {
	return func(s *Scheduler) { s.lock = lock }
}

// WithLockTTL sets how long the cycle lock outlives a crashed holder. It
// defaults to the cycle timeout.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// NewScheduler validates spec and builds a scheduler around runner.
func NewScheduler(runner CycleRunner, spec string, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:   runner,
		spec:     spec,
		schedule: schedule,
		logger:   logger.With(slog.String("component", "scheduler")),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is cancelled. A tick that
// lands while a cycle is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(scheduleParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Trigger(ctx); err != nil && !errors.Is(err, domain.ErrCycleInProgress) && !errors.Is(err, domain.ErrLockHeld) {
			s.logger.ErrorContext(ctx, "scheduled cycle failed", slog.String("error", err.Error()))
		}
	}))

	s.logger.InfoContext(ctx, "scheduler started",
		slog.String("schedule", s.spec),
		slog.Time("next", s.Next(time.Now())),
		slog.Duration("cycle_timeout", s.timeout),
	)
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Trigger runs one cycle now. It returns domain.ErrCycleInProgress if a
// cycle is already running here, or domain.ErrLockHeld if another replica
// holds the cycle lock.
func (s *Scheduler) Trigger(ctx context.Context) (domain.CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return domain.CycleResult{}, domain.ErrCycleInProgress
	}
	defer s.running.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if s.lock != nil {
		ttl := s.lockTTL
		if ttl <= 0 {
			ttl = s.timeout
		}
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		unlock, err := s.lock.Acquire(ctx, cycleLockKey, ttl)
		if err != nil {
			s.logger.InfoContext(ctx, "cycle skipped, lock not acquired", slog.String("error", err.Error()))
			return domain.CycleResult{}, err
		}
		defer unlock()
	}

	result, err := s.runner.RunCycle(ctx)

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	return result, err
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool { return s.running.Load() }

// LastResult returns the most recent cycle result, if any.
func (s *Scheduler) LastResult() (domain.CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return domain.CycleResult{}, false
	}
	return *s.last, true
}

// Spec returns the schedule expression.
func (s *Scheduler) Spec() string { return s.spec }

// Next returns the next activation after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.schedule.Next(t) }

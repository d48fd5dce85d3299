// Package scheduler runs the periodic sweeps. Due-ness is judged against an
// injected clock, so tests drive it by advancing a fake clock and calling Tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
)

type Job func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	fn       Job
	next     time.Time
}

type Scheduler struct {
	mu      sync.Mutex
	jobs    []*entry
	clock   clock.Clock
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a scheduler. timeout bounds a single job run.
func New(clk clock.Clock, timeout time.Duration, logger zerolog.Logger, m *metrics.Metrics) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{clock: clk, timeout: timeout, logger: logger, metrics: m}
}

// Register adds a job that runs every interval. A new job is due immediately.
func (s *Scheduler) Register(name string, interval time.Duration, fn Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &entry{name: name, interval: interval, fn: fn, next: s.clock.Now()})
}

// Tick runs every due job once, in registration order, and returns how many
// ran. A failing job is logged and rescheduled like any other.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !now.Before(e.next) {
			e.next = now.Add(e.interval)
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.run(ctx, e)
	}
	return len(due)
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := e.fn(runCtx)
	elapsed := time.Since(start)
	s.metrics.ObserveJob(e.name, err, elapsed.Seconds())

	if err != nil {
		s.logger.Error().Err(err).Str("job", e.name).Dur("elapsed", elapsed).Msg("sweep run failed")
		return
	}
	s.logger.Debug().Str("job", e.name).Dur("elapsed", elapsed).Msg("sweep run complete")
}

// Run ticks every poll until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, poll time.Duration) {
	s.Tick(ctx)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Package scheduler drives the periodic ingestion runs. Each category gets
// an independent timer loop: sleep every six hours, exercise every fifteen
// minutes. Loops never queue work -- if a run is still in flight when its
// timer fires, the tick is skipped and logged.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"healthsync/internal/types"
)

// initialBackoff is the first retry delay after a failed run. Backoff doubles
// per consecutive failure and is capped at the category's own interval, so a
// failing category never polls more slowly than its normal cadence.
const initialBackoff = 30 * time.Second

// escalationThreshold is the consecutive-failure count at which the
// scheduler raises its log severity for a category.
const escalationThreshold = 3

// Runner executes one ingestion run for a category. Implemented by
// ingest.Coordinator.
type Runner interface {
	RunCategory(ctx context.Context, category types.Category) (*types.RunResult, error)
}

// CategorySchedule pairs a pull category with its polling interval.
type CategorySchedule struct {
	Category types.Category
	Interval time.Duration
}

// Scheduler owns one timer loop per configured category.
type Scheduler struct {
	runner     Runner
	schedules  []CategorySchedule
	runTimeout time.Duration
	logger     *slog.Logger

	// afterFn is injectable for tests; defaults to time.After.
	afterFn func(time.Duration) <-chan time.Time

	// inFlight holds one atomic flag per category for overlap suppression.
	inFlight map[types.Category]*atomic.Bool

	// initialFailures seeds each loop's consecutive-failure count, so a
	// restart does not reset a failing category's backoff posture.
	initialFailures map[types.Category]int
}

// Config holds the configuration for creating a Scheduler.
type Config struct {
	Runner     Runner
	Schedules  []CategorySchedule
	RunTimeout time.Duration
	Logger     *slog.Logger

	// InitialFailures carries recent failure counts restored from run
	// history. Missing categories start at zero.
	InitialFailures map[types.Category]int
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithAfterFunc overrides the timer function used between runs, for testing.
func WithAfterFunc(fn func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) { s.afterFn = fn }
}

// New creates a Scheduler from the given configuration.
func New(cfg Config, opts ...Option) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		runner:          cfg.Runner,
		schedules:       cfg.Schedules,
		runTimeout:      cfg.RunTimeout,
		logger:          logger,
		afterFn:         time.After,
		inFlight:        make(map[types.Category]*atomic.Bool),
		initialFailures: cfg.InitialFailures,
	}
	for _, sched := range cfg.Schedules {
		s.inFlight[sched.Category] = &atomic.Bool{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run starts one loop per schedule and blocks until ctx is canceled and all
// in-flight runs have finished.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sched := range s.schedules {
		wg.Add(1)
		go func(sched CategorySchedule) {
			defer wg.Done()
			s.loop(ctx, sched)
		}(sched)
	}
	wg.Wait()
}

// loop is the per-category timer loop. The category is polled immediately on
// startup, then on its interval. After a failure the next attempt comes
// sooner, on an exponential backoff capped at the interval.
func (s *Scheduler) loop(ctx context.Context, sched CategorySchedule) {
	log := s.logger.With("category", string(sched.Category), "interval", sched.Interval.String())
	log.InfoContext(ctx, "scheduler loop starting")

	consecutiveFailures := s.initialFailures[sched.Category]
	if consecutiveFailures > 0 {
		log.InfoContext(ctx, "restored failure posture from run history",
			"consecutive_failures", consecutiveFailures)
	}
	for {
		ok := s.runOnce(ctx, sched.Category, log)
		if ctx.Err() != nil {
			log.InfoContext(ctx, "scheduler loop stopping")
			return
		}

		if ok {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
			if consecutiveFailures >= escalationThreshold {
				log.ErrorContext(ctx, "category is persistently failing",
					"consecutive_failures", consecutiveFailures)
			}
		}

		wait := s.nextWait(sched.Interval, consecutiveFailures)
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "scheduler loop stopping")
			return
		case <-s.afterFn(wait):
		}
	}
}

// runOnce executes a single run under the per-run timeout, suppressing
// overlap. It reports whether the run succeeded (partial counts as success
// for backoff purposes; the source and store are reachable).
func (s *Scheduler) runOnce(ctx context.Context, category types.Category, log *slog.Logger) bool {
	flag := s.inFlight[category]
	if !flag.CompareAndSwap(false, true) {
		// A previous run is still in flight. Never queue a second one;
		// the next tick will pick up where the checkpoint left off.
		log.WarnContext(ctx, "previous run still in flight; skipping tick")
		return true
	}
	defer flag.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	_, err := s.runner.RunCategory(runCtx, category)
	return err == nil
}

// nextWait computes the delay before the next run: the normal interval after
// a success, exponential backoff capped at the interval after failures.
func (s *Scheduler) nextWait(interval time.Duration, consecutiveFailures int) time.Duration {
	if consecutiveFailures == 0 {
		return interval
	}
	backoff := initialBackoff
	for i := 1; i < consecutiveFailures; i++ {
		backoff *= 2
		if backoff >= interval {
			break
		}
	}
	if backoff > interval {
		backoff = interval
	}
	return backoff
}

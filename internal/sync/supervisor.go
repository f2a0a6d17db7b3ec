package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs every half hour.
const DefaultSchedule = "*/30 * * * *"

// ParseSchedule parses a standard five-field cron expression (descriptors
// such as "@hourly" are accepted too).
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("sync: invalid schedule %q: %w", expr, err)
	}

	return sched, nil
}

// Runner performs one sync run. Satisfied by *Engine.
type Runner interface {
	RunOnce(ctx context.Context, opts RunOpts) (*Report, error)
}

// SupervisorConfig holds the options for NewSupervisor. Options and
// Schedule are read before every run so a reloaded config takes effect
// on the next cycle.
type SupervisorConfig struct {
	Runner   Runner
	Options  func() RunOpts
	Schedule func() cron.Schedule
	Watchdog WatchdogConfig
	Logger   *slog.Logger

	// OnReport, if set, is called after every run.
	OnReport func(r *Report, err error)
}

// Supervisor repeats runs on a cron schedule until the watchdog says stop
// or the context is canceled. Runs never overlap.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		cfg:       cfg,
		logger:    logger,
		nowFunc:   time.Now,
		sleepFunc: sleepCtx,
	}
}

// Run loops until the watchdog is satisfied (nil), gives up
// (ErrAuthExhausted or ErrRunsExhausted) or ctx is canceled (nil).
func (s *Supervisor) Run(ctx context.Context) error {
	wd := NewWatchdog(s.cfg.Watchdog)

	for {
		report, err := s.cfg.Runner.RunOnce(ctx, s.cfg.Options())

		if ctx.Err() != nil {
			s.logger.Info("supervisor stopping: context canceled")
			return nil
		}

		if s.cfg.OnReport != nil {
			s.cfg.OnReport(report, err)
		}

		verdict, wdErr := wd.Observe(report, err)
		clean, failures, runs := wd.Counts()

		s.logger.Info("supervised run finished",
			slog.String("verdict", verdict.String()),
			slog.Int("clean_runs", clean),
			slog.Int("consecutive_failures", failures),
			slog.Int("runs", runs),
		)

		switch verdict {
		case VerdictDone:
			return nil
		case VerdictAbort:
			return wdErr
		case VerdictContinue:
		}

		now := s.nowFunc()
		next := s.cfg.Schedule().Next(now)

		s.logger.Info("next run scheduled", slog.Time("at", next))

		if err := s.sleepFunc(ctx, next.Sub(now)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				s.logger.Info("supervisor stopping: context canceled")
				return nil
			}

			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

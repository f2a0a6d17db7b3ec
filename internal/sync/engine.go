package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/timetable-sync/internal/portal"
	"github.com/tonimelisma/timetable-sync/internal/state"
)

// DefaultDaysToCheck is the number of dates after today a run covers.
const DefaultDaysToCheck = 7

// Outcome classifies a finished run.
type Outcome string

// Run outcomes.
const (
	OutcomeSuccess         Outcome = "success"
	OutcomePartial         Outcome = "partial" // completed with calendar failures
	OutcomeChallengeNeeded Outcome = "challenge_needed"
	OutcomeFailure         Outcome = "failure"
)

// Classify derives the outcome of a run from its report and error.
func Classify(r *Report, err error) Outcome {
	switch {
	case err == nil && (r == nil || r.Failed == 0):
		return OutcomeSuccess
	case err == nil:
		return OutcomePartial
	case errors.Is(err, portal.ErrChallengeNeeded), errors.Is(err, portal.ErrChallengeDataMissing):
		return OutcomeChallengeNeeded
	default:
		return OutcomeFailure
	}
}

// Report summarizes one run.
type Report struct {
	RunID     string
	Window    Window
	DryRun    bool
	Challenge portal.ChallengeOutcome
	Outcome   Outcome
	Duration  time.Duration

	// Plan counts, populated for dry runs too.
	Courses   int
	Creates   int
	Deletes   int
	Unchanged int

	// Execution results, zero for dry runs.
	Created int
	Deleted int
	Failed  int
	Skipped int
	Errors  []error
}

func newReport(plan *SyncPlan, dryRun bool) *Report {
	return &Report{
		Window:    plan.Window,
		DryRun:    dryRun,
		Creates:   plan.Count(ActionCreate),
		Deletes:   plan.Count(ActionDelete),
		Unchanged: plan.Count(ActionNoOp),
	}
}

// RunRecorder persists run history. Satisfied by *state.Store.
type RunRecorder interface {
	RecordRun(ctx context.Context, r state.RunRecord) error
}

// EngineConfig holds the collaborators of an Engine.
type EngineConfig struct {
	Auth     Authenticator   // satisfied by *portal.Session
	Schedule ScheduleFetcher // satisfied by *portal.Timetable
	Calendar Calendar        // satisfied by *calendar.Service
	Mapper   *Mapper
	History  RunRecorder    // optional
	Location *time.Location // portal timezone; nil means time.Local
	Logger   *slog.Logger
}

// RunOpts holds per-run options for RunOnce.
type RunOpts struct {
	DaysToCheck int
	DryRun      bool
}

// Engine runs the pipeline authenticate -> fetch -> list -> plan ->
// execute as one sequential operation. It never runs two pipelines at
// once; callers serialize RunOnce.
type Engine struct {
	auth     Authenticator
	schedule ScheduleFetcher
	cal      Calendar
	planner  *Planner
	executor *Executor
	history  RunRecorder
	loc      *time.Location
	logger   *slog.Logger

	nowFunc func() time.Time
	newID   func() string
}

// NewEngine creates an Engine.
func NewEngine(cfg *EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	return &Engine{
		auth:     cfg.Auth,
		schedule: cfg.Schedule,
		cal:      cfg.Calendar,
		planner:  NewPlanner(cfg.Mapper, logger),
		executor: NewExecutor(cfg.Calendar, logger),
		history:  cfg.History,
		loc:      loc,
		logger:   logger,
		nowFunc:  time.Now,
		newID:    uuid.NewString,
	}
}

// RunOnce performs one complete sync. The returned Report is never nil:
// on a fatal error it carries what was known when the run stopped, and
// Outcome is always set. Calendar operation failures are not returned as
// an error; they are counted in the Report.
func (e *Engine) RunOnce(ctx context.Context, opts RunOpts) (*Report, error) {
	started := e.nowFunc()
	runID := e.newID()

	e.logger.Info("sync run starting",
		slog.String("run_id", runID),
		slog.Int("days", opts.DaysToCheck),
		slog.Bool("dry_run", opts.DryRun),
	)

	report, err := e.run(ctx, opts)
	report.RunID = runID
	report.Duration = e.nowFunc().Sub(started)
	report.Outcome = Classify(report, err)

	if err != nil {
		e.logger.Error("sync run failed",
			slog.String("run_id", runID),
			slog.String("outcome", string(report.Outcome)),
			slog.String("error", err.Error()),
		)
	} else {
		e.logger.Info("sync run complete",
			slog.String("run_id", runID),
			slog.String("outcome", string(report.Outcome)),
			slog.Duration("duration", report.Duration),
			slog.Int("created", report.Created),
			slog.Int("deleted", report.Deleted),
			slog.Int("unchanged", report.Unchanged),
			slog.Int("failed", report.Failed),
		)
	}

	e.recordRun(ctx, started, report, err)

	return report, err
}

func (e *Engine) run(ctx context.Context, opts RunOpts) (*Report, error) {
	window := NewWindow(e.nowFunc(), opts.DaysToCheck, e.loc)
	report := &Report{Window: window, DryRun: opts.DryRun}

	if opts.DaysToCheck < 0 {
		return report, fmt.Errorf("sync: days to check must not be negative, got %d", opts.DaysToCheck)
	}

	id, err := e.auth.Authenticate(ctx)
	if err != nil {
		return report, err
	}

	report.Challenge = id.Challenge

	courses, err := e.schedule.Fetch(ctx, id.Token, id.Student.ID, window.Start, window.End)
	if err != nil {
		return report, err
	}

	report.Courses = len(courses)

	events, err := e.cal.List(ctx, window.Start, window.Until())
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrCalendarList, err)
	}

	plan := e.planner.Plan(window, courses, events)

	result := e.executor.Execute(ctx, plan, opts.DryRun)
	result.Challenge = report.Challenge
	result.Courses = report.Courses

	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, ctxErr
	}

	return result, nil
}

func (e *Engine) recordRun(ctx context.Context, started time.Time, r *Report, runErr error) {
	if e.history == nil || r.DryRun {
		return
	}

	rec := state.RunRecord{
		ID:          r.RunID,
		StartedAt:   started,
		FinishedAt:  started.Add(r.Duration),
		Outcome:     string(r.Outcome),
		WindowStart: r.Window.Start.Format(time.DateOnly),
		WindowEnd:   r.Window.End.Format(time.DateOnly),
		Challenge:   r.Challenge.String(),
		Created:     r.Created,
		Deleted:     r.Deleted,
		Unchanged:   r.Unchanged,
		Failed:      r.Failed,
	}

	switch {
	case runErr != nil:
		rec.Error = runErr.Error()
	case len(r.Errors) > 0:
		rec.Error = errors.Join(r.Errors...).Error()
	}

	// History is written even when the run was canceled.
	if err := e.history.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("failed to record run history",
			slog.String("run_id", r.RunID),
			slog.String("error", err.Error()),
		)
	}
}

// SuppressRepeatedFailures makes later runs skip courses whose calendar
// operations keep failing. Used by the supervisor.
func (e *Engine) SuppressRepeatedFailures() {
	e.executor.suppressRepeatedFailures()
}

package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// Executor applies a SyncPlan to the calendar, strictly in plan order.
// A failed create or delete is recorded in the Report and execution moves
// on; only context cancellation stops it early.
type Executor struct {
	cal      Calendar
	logger   *slog.Logger
	failures *failureTracker // nil unless supervised
}

// NewExecutor creates an Executor mutating cal.
func NewExecutor(cal Calendar, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{cal: cal, logger: logger}
}

// suppressRepeatedFailures makes the executor skip courses whose calendar
// operations failed repeatedly in earlier runs.
func (e *Executor) suppressRepeatedFailures() {
	if e.failures == nil {
		e.failures = newFailureTracker(e.logger)
	}
}

// Execute runs the plan and returns the counts. With dryRun set, nothing
// is sent to the calendar and the planned mutations are only logged.
func (e *Executor) Execute(ctx context.Context, plan *SyncPlan, dryRun bool) *Report {
	r := newReport(plan, dryRun)

	if plan.Mutations() == 0 {
		e.logger.Debug("calendar already up to date", slog.String("window", plan.Window.String()))
		return r
	}

	// Courses whose old event could not be removed: creating the
	// replacement would leave two events with one id.
	blocked := make(map[string]bool)

	for i := range plan.Actions {
		a := &plan.Actions[i]

		if a.Type == ActionNoOp {
			continue
		}

		if err := ctx.Err(); err != nil {
			r.Errors = append(r.Errors, fmt.Errorf("sync: execution interrupted: %w", err))
			break
		}

		if dryRun {
			e.logDryRun(a)
			continue
		}

		if blocked[a.CourseID] && a.Type == ActionCreate {
			e.logger.Warn("skipping replacement, old event still present",
				slog.String("course_id", a.CourseID),
			)

			r.Skipped++

			continue
		}

		if e.failures != nil && e.failures.shouldSkip(a.CourseID) {
			r.Skipped++
			continue
		}

		err := e.apply(ctx, a)
		if err != nil {
			r.Failed++
			r.Errors = append(r.Errors, err)

			e.logger.Warn("calendar operation failed",
				slog.String("action", a.Type.String()),
				slog.String("course_id", a.CourseID),
				slog.String("error", err.Error()),
			)

			if a.Type == ActionDelete && a.Reason == ReasonReplaced {
				blocked[a.CourseID] = true
			}

			if e.failures != nil {
				e.failures.recordFailure(a.CourseID, err.Error())
			}

			continue
		}

		if e.failures != nil {
			e.failures.recordSuccess(a.CourseID)
		}

		switch a.Type {
		case ActionCreate:
			r.Created++
		case ActionDelete:
			r.Deleted++
		case ActionNoOp:
		}
	}

	return r
}

func (e *Executor) apply(ctx context.Context, a *Action) error {
	switch a.Type {
	case ActionCreate:
		created, err := e.cal.Insert(ctx, *a.Desired)
		if err != nil {
			return fmt.Errorf("%w: create course %s: %w", ErrCalendarOperation, a.CourseID, err)
		}

		e.logger.Info("event created",
			slog.String("course_id", a.CourseID),
			slog.String("event_id", created.ID),
			slog.String("title", created.Title),
			slog.Time("start", created.Start),
		)

		return nil

	case ActionDelete:
		if err := e.cal.Delete(ctx, a.Event.ID); err != nil {
			return fmt.Errorf("%w: delete event %s (course %s, %s): %w",
				ErrCalendarOperation, a.Event.ID, a.CourseID, a.Reason, err)
		}

		e.logger.Info("event deleted",
			slog.String("course_id", a.CourseID),
			slog.String("event_id", a.Event.ID),
			slog.String("reason", string(a.Reason)),
		)

		return nil

	default:
		return nil
	}
}

func (e *Executor) logDryRun(a *Action) {
	switch a.Type {
	case ActionCreate:
		e.logger.Info("dry run: would create event",
			slog.String("course_id", a.CourseID),
			slog.String("title", a.Desired.Title),
			slog.Time("start", a.Desired.Start),
		)
	case ActionDelete:
		e.logger.Info("dry run: would delete event",
			slog.String("course_id", a.CourseID),
			slog.String("event_id", a.Event.ID),
			slog.String("reason", string(a.Reason)),
		)
	case ActionNoOp:
	}
}

package sync

import (
	"log/slog"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/portal"
)

// Planner is a pure decision engine: it turns the fetched sessions and the
// window's current events into a SyncPlan. It performs no I/O.
type Planner struct {
	mapper *Mapper
	logger *slog.Logger
}

// NewPlanner creates a Planner rendering events with mapper.
func NewPlanner(mapper *Mapper, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}

	if mapper == nil {
		mapper = NewMapper(MappingOptions{})
	}

	return &Planner{mapper: mapper, logger: logger}
}

// Plan decides one action per fetched session, then sweeps managed events
// whose course id was not fetched. Per session:
//
//	no managed event              -> Create
//	event, not modified           -> NoOp
//	event, modified, same content -> NoOp (replacement already made)
//	event, modified, new content  -> Delete(replaced), Create
//
// The portal keeps reporting a session as modified after the change, so a
// modified session whose Rev fingerprint equals the existing event's was
// already replaced by an earlier run and stays a NoOp. Without that check
// every run would delete and re-create it.
//
// Extra events carrying an already matched id are deleted as duplicates.
// Events without an id marker never appear in the plan.
func (p *Planner) Plan(window Window, courses []portal.CourseSession, events []calendar.Event) *SyncPlan {
	matcher := NewMatcher(events)
	plan := &SyncPlan{Window: window}
	fetched := make(map[string]bool, len(courses))

	for i := range courses {
		c := &courses[i]

		if fetched[c.ID] {
			p.logger.Warn("portal listed a course id twice, keeping the first",
				slog.String("course_id", c.ID),
			)

			continue
		}

		fetched[c.ID] = true

		plan.Actions = append(plan.Actions, p.planCourse(c, matcher)...)
	}

	for _, id := range matcher.IDs() {
		if fetched[id] {
			continue
		}

		for _, ev := range matcher.Events(id) {
			plan.Actions = append(plan.Actions, deleteAction(id, ev, ReasonObsolete))
		}
	}

	p.logger.Info("sync plan ready",
		slog.String("window", window.String()),
		slog.Int("courses", len(fetched)),
		slog.Int("events", len(events)),
		slog.Int("unmanaged", matcher.Unmanaged()),
		slog.Int("creates", plan.Count(ActionCreate)),
		slog.Int("deletes", plan.Count(ActionDelete)),
		slog.Int("unchanged", plan.Count(ActionNoOp)),
	)

	return plan
}

func (p *Planner) planCourse(c *portal.CourseSession, matcher *Matcher) []Action {
	desired := p.mapper.Event(c)
	existing, extras, found := matcher.Match(c.ID)

	var actions []Action

	for _, dup := range extras {
		actions = append(actions, deleteAction(c.ID, dup, ReasonDuplicate))
	}

	switch {
	case !found:
		actions = append(actions, createAction(c.ID, desired))
	case !c.Modified:
		actions = append(actions, Action{Type: ActionNoOp, CourseID: c.ID, Event: &existing})
	case parseRev(existing.Description) == parseRev(desired.Description):
		actions = append(actions, Action{Type: ActionNoOp, CourseID: c.ID, Event: &existing})
	default:
		actions = append(actions,
			deleteAction(c.ID, existing, ReasonReplaced),
			createAction(c.ID, desired),
		)
	}

	return actions
}

func createAction(courseID string, desired calendar.Event) Action {
	return Action{Type: ActionCreate, CourseID: courseID, Desired: &desired}
}

func deleteAction(courseID string, ev calendar.Event, reason DeleteReason) Action {
	return Action{Type: ActionDelete, Reason: reason, CourseID: courseID, Event: &ev}
}

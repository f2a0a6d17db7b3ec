package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/portal"
)

func planAndExecute(t *testing.T, cal *memCalendar, courses []portal.CourseSession, dryRun bool) *Report {
	t.Helper()

	events, err := cal.List(t.Context(), Window{}.Start, Window{}.Until())
	require.NoError(t, err)

	plan := newTestPlanner().Plan(Window{}, courses, events)

	return NewExecutor(cal, quietLogger()).Execute(t.Context(), plan, dryRun)
}

func TestExecute_SecondRunIsNoOp(t *testing.T) {
	modified := course(t, "2", 9)
	modified.Modified = true

	courses := []portal.CourseSession{course(t, "1", 8), modified}
	cal := newMemCalendar(managed("old-2", "2"), managed("old-3", "3"))

	first := planAndExecute(t, cal, courses, false)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 2, first.Deleted) // old-2 replaced, old-3 swept
	assert.Zero(t, first.Failed)

	before := cal.mutations()

	second := planAndExecute(t, cal, courses, false)
	assert.Zero(t, second.Created)
	assert.Zero(t, second.Deleted)
	assert.Equal(t, 2, second.Unchanged)
	assert.Equal(t, before, cal.mutations())

	assert.Equal(t, map[string]int{"1": 1, "2": 1}, cal.managedIDs())
}

func TestExecute_FailureIsNotFatal(t *testing.T) {
	cal := newMemCalendar()
	cal.failInsert["1"] = errBoom

	r := planAndExecute(t, cal, []portal.CourseSession{course(t, "1", 8), course(t, "2", 9)}, false)

	assert.Equal(t, 1, r.Created)
	assert.Equal(t, 1, r.Failed)
	require.Len(t, r.Errors, 1)
	require.ErrorIs(t, r.Errors[0], ErrCalendarOperation)
	require.ErrorIs(t, r.Errors[0], errBoom)
	assert.Equal(t, map[string]int{"2": 1}, cal.managedIDs())
}

func TestExecute_FailedReplaceDeleteSkipsCreate(t *testing.T) {
	c := course(t, "1", 8)
	c.Modified = true

	cal := newMemCalendar(managed("old-1", "1"))
	cal.failDelete["old-1"] = errBoom

	r := planAndExecute(t, cal, []portal.CourseSession{c}, false)

	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.Skipped)
	assert.Zero(t, r.Created)
	assert.Equal(t, map[string]int{"1": 1}, cal.managedIDs())
}

func TestExecute_FailedObsoleteDeleteDoesNotBlockOthers(t *testing.T) {
	cal := newMemCalendar(managed("old-3", "3"))
	cal.failDelete["old-3"] = errBoom

	r := planAndExecute(t, cal, []portal.CourseSession{course(t, "2", 8)}, false)

	assert.Equal(t, 1, r.Created)
	assert.Equal(t, 1, r.Failed)
	assert.Zero(t, r.Skipped)
}

func TestExecute_DryRunMutatesNothing(t *testing.T) {
	cal := newMemCalendar(managed("old-3", "3"))

	r := planAndExecute(t, cal, []portal.CourseSession{course(t, "1", 8)}, true)

	assert.True(t, r.DryRun)
	assert.Equal(t, 1, r.Creates)
	assert.Equal(t, 1, r.Deletes)
	assert.Zero(t, r.Created)
	assert.Zero(t, r.Deleted)
	assert.Zero(t, cal.mutations())
}

func TestExecute_CanceledContextStops(t *testing.T) {
	cal := newMemCalendar()
	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{course(t, "1", 8)}, nil)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	r := NewExecutor(cal, quietLogger()).Execute(ctx, plan, false)

	require.Len(t, r.Errors, 1)
	require.ErrorIs(t, r.Errors[0], context.Canceled)
	assert.Zero(t, cal.mutations())
}

func TestExecute_SuppressesRepeatedFailures(t *testing.T) {
	cal := newMemCalendar()
	cal.failInsert["1"] = errBoom

	exec := NewExecutor(cal, quietLogger())
	exec.suppressRepeatedFailures()

	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{course(t, "1", 8)}, nil)

	for range failureThreshold {
		r := exec.Execute(t.Context(), plan, false)
		assert.Equal(t, 1, r.Failed)
	}

	r := exec.Execute(t.Context(), plan, false)
	assert.Zero(t, r.Failed)
	assert.Equal(t, 1, r.Skipped)
}

func TestExecute_NoOpsNeverReachCalendar(t *testing.T) {
	ev := calendar.Event{ID: "e1", Description: FormatDescription("", "1", "")}
	cal := newMemCalendar(ev)

	plan := &SyncPlan{Actions: []Action{{Type: ActionNoOp, CourseID: "1", Event: &ev}}}
	r := NewExecutor(cal, quietLogger()).Execute(t.Context(), plan, false)

	assert.Equal(t, 1, r.Unchanged)
	assert.Zero(t, cal.mutations())
}

package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/calendar"
	"github.com/tonimelisma/timetable-sync/internal/portal"
)

func newTestPlanner() *Planner {
	return NewPlanner(NewMapper(MappingOptions{}), quietLogger())
}

func actionTypes(plan *SyncPlan) []ActionType {
	out := make([]ActionType, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		out = append(out, a.Type)
	}

	return out
}

func TestPlan_UnmodifiedMatchIsNoOp(t *testing.T) {
	courses := []portal.CourseSession{course(t, "1", 8)}
	events := []calendar.Event{managed("evt-1", "1")}

	plan := newTestPlanner().Plan(Window{}, courses, events)

	assert.Equal(t, []ActionType{ActionNoOp}, actionTypes(plan))
	assert.Equal(t, "evt-1", plan.Actions[0].Event.ID)
	assert.Zero(t, plan.Mutations())
}

func TestPlan_ModifiedMatchIsReplaced(t *testing.T) {
	c := course(t, "1", 8)
	c.Modified = true

	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{c}, []calendar.Event{managed("evt-1", "1")})

	require.Equal(t, []ActionType{ActionDelete, ActionCreate}, actionTypes(plan))
	assert.Equal(t, "evt-1", plan.Actions[0].Event.ID)
	assert.Equal(t, ReasonReplaced, plan.Actions[0].Reason)

	id, ok := ParseMarker(plan.Actions[1].Desired.Description)
	require.True(t, ok)
	assert.Equal(t, "1", id)
}

func TestPlan_ModifiedAlreadyReplacedIsNoOp(t *testing.T) {
	c := course(t, "1", 8)
	c.Modified = true

	// The event a previous run created for the same content.
	current := NewMapper(MappingOptions{}).Event(&c)
	current.ID = "evt-2"

	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{c}, []calendar.Event{current})

	assert.Equal(t, []ActionType{ActionNoOp}, actionTypes(plan))
}

func TestPlan_CreateAndSweep(t *testing.T) {
	plan := newTestPlanner().Plan(Window{},
		[]portal.CourseSession{course(t, "2", 8)},
		[]calendar.Event{managed("evt-3", "3")},
	)

	require.Equal(t, []ActionType{ActionCreate, ActionDelete}, actionTypes(plan))

	created, _ := ParseMarker(plan.Actions[0].Desired.Description)
	assert.Equal(t, "2", created)

	assert.Equal(t, "evt-3", plan.Actions[1].Event.ID)
	assert.Equal(t, "3", plan.Actions[1].CourseID)
	assert.Equal(t, ReasonObsolete, plan.Actions[1].Reason)
}

func TestPlan_UnmanagedEventsNeverTouched(t *testing.T) {
	c := course(t, "1", 8)
	c.Modified = true

	// Same title, same time, no marker.
	lookalike := calendar.Event{ID: "manual", Title: "Math", Description: "Professeur : M. Dupont", Start: c.Start, End: c.End}
	mentions := calendar.Event{ID: "notes", Title: "Math", Description: "bring ID card"}

	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{c}, []calendar.Event{lookalike, mentions})

	assert.Equal(t, []ActionType{ActionCreate}, actionTypes(plan))

	for _, a := range plan.Actions {
		if a.Event != nil {
			assert.NotEqual(t, "manual", a.Event.ID)
			assert.NotEqual(t, "notes", a.Event.ID)
		}
	}

	// Nothing fetched: the sweep still leaves unmanaged events alone.
	empty := newTestPlanner().Plan(Window{}, nil, []calendar.Event{lookalike, mentions})
	assert.Empty(t, empty.Actions)
}

func TestPlan_DuplicatesDeleted(t *testing.T) {
	first := managed("a", "5")
	first.Created = first.Start.AddDate(0, 0, -10)
	second := managed("b", "5")
	second.Created = first.Start.AddDate(0, 0, -5)

	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{course(t, "5", 8)}, []calendar.Event{second, first})

	require.Equal(t, []ActionType{ActionDelete, ActionNoOp}, actionTypes(plan))
	assert.Equal(t, "b", plan.Actions[0].Event.ID)
	assert.Equal(t, ReasonDuplicate, plan.Actions[0].Reason)
	assert.Equal(t, "a", plan.Actions[1].Event.ID)
}

func TestPlan_SweepDeletesEveryCopy(t *testing.T) {
	plan := newTestPlanner().Plan(Window{}, nil, []calendar.Event{managed("a", "9"), managed("b", "9")})

	require.Equal(t, []ActionType{ActionDelete, ActionDelete}, actionTypes(plan))
	assert.Equal(t, ReasonObsolete, plan.Actions[0].Reason)
	assert.Equal(t, ReasonObsolete, plan.Actions[1].Reason)
}

func TestPlan_RepeatedCourseIDPlannedOnce(t *testing.T) {
	plan := newTestPlanner().Plan(Window{}, []portal.CourseSession{course(t, "1", 8), course(t, "1", 10)}, nil)

	require.Equal(t, []ActionType{ActionCreate}, actionTypes(plan))
	assert.Equal(t, 8, plan.Actions[0].Desired.Start.Hour())
}

func TestPlan_MixedWindow(t *testing.T) {
	modified := course(t, "2", 9)
	modified.Modified = true

	courses := []portal.CourseSession{course(t, "1", 8), modified, course(t, "4", 11)}
	events := []calendar.Event{
		managed("e1", "1"),
		managed("e2", "2"),
		managed("e3", "3"),
		{ID: "manual", Title: "Dentist"},
	}

	plan := newTestPlanner().Plan(Window{}, courses, events)

	assert.Equal(t, []ActionType{
		ActionNoOp,                 // 1
		ActionDelete, ActionCreate, // 2 replaced
		ActionCreate, // 4 new
		ActionDelete, // 3 swept
	}, actionTypes(plan))
	assert.Equal(t, 2, plan.Count(ActionCreate))
	assert.Equal(t, 2, plan.Count(ActionDelete))
	assert.Equal(t, 4, plan.Mutations())
}

package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/portal"
	"github.com/tonimelisma/timetable-sync/internal/state"
)

type memHistory struct {
	records []state.RunRecord
	err     error
}

func (h *memHistory) RecordRun(_ context.Context, r state.RunRecord) error {
	h.records = append(h.records, r)
	return h.err
}

type engineFixture struct {
	auth     *staticAuth
	schedule *staticSchedule
	cal      *memCalendar
	history  *memHistory
	engine   *Engine
	now      time.Time
}

func newEngineFixture(t *testing.T, courses ...portal.CourseSession) *engineFixture {
	t.Helper()

	loc := parisLoc(t)

	f := &engineFixture{
		auth: &staticAuth{id: &portal.Identity{
			Token:   "tok-1",
			Student: portal.Account{ID: 4242, Role: "E"},
		}},
		schedule: &staticSchedule{courses: courses},
		cal:      newMemCalendar(),
		history:  &memHistory{},
		now:      time.Date(2024, 3, 11, 6, 30, 0, 0, loc),
	}

	f.engine = NewEngine(&EngineConfig{
		Auth:     f.auth,
		Schedule: f.schedule,
		Calendar: f.cal,
		Mapper:   NewMapper(MappingOptions{}),
		History:  f.history,
		Location: loc,
		Logger:   quietLogger(),
	})

	f.engine.nowFunc = func() time.Time { return f.now }
	n := 0
	f.engine.newID = func() string {
		n++
		return fmt.Sprintf("run-%d", n)
	}

	return f
}

func TestRunOnce_CreatesAndRecords(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8), course(t, "2", 10))

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.NoError(t, err)

	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
	assert.Equal(t, 2, r.Courses)
	assert.Equal(t, 2, r.Created)
	assert.Equal(t, portal.ChallengeNone, r.Challenge)

	assert.Equal(t, "tok-1", f.schedule.gotToken)
	assert.Equal(t, int64(4242), f.schedule.gotID)
	assert.Equal(t, "2024-03-11", f.schedule.gotStart.Format(time.DateOnly))
	assert.Equal(t, "2024-03-18", f.schedule.gotEnd.Format(time.DateOnly))

	require.Len(t, f.history.records, 1)
	rec := f.history.records[0]
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, "success", rec.Outcome)
	assert.Equal(t, "2024-03-11", rec.WindowStart)
	assert.Equal(t, "2024-03-18", rec.WindowEnd)
	assert.Equal(t, 2, rec.Created)
	assert.Empty(t, rec.Error)
}

func TestRunOnce_Idempotent(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8), course(t, "2", 10))

	_, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.NoError(t, err)

	before := f.cal.mutations()

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.NoError(t, err)

	assert.Equal(t, 2, r.Unchanged)
	assert.Equal(t, before, f.cal.mutations())
}

func TestRunOnce_AuthFailureTouchesNothing(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8))
	f.auth.err = portal.ErrBadCredentials
	f.cal.listErr = errBoom // would surface if List were called

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.ErrorIs(t, err, portal.ErrAuth)
	require.NotNil(t, r)

	assert.Equal(t, OutcomeFailure, r.Outcome)
	assert.Zero(t, f.schedule.callCount)
	assert.Zero(t, f.cal.mutations())

	require.Len(t, f.history.records, 1)
	assert.Equal(t, "failure", f.history.records[0].Outcome)
	assert.Contains(t, f.history.records[0].Error, "credentials rejected")
}

func TestRunOnce_ChallengeNeeded(t *testing.T) {
	f := newEngineFixture(t)
	f.auth.err = portal.ErrChallengeNeeded

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.Error(t, err)
	assert.Equal(t, OutcomeChallengeNeeded, r.Outcome)
}

func TestRunOnce_FetchFailureTouchesNothing(t *testing.T) {
	f := newEngineFixture(t)
	f.schedule.err = portal.ErrScheduleData

	_, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.ErrorIs(t, err, portal.ErrScheduleFetch)
	assert.Zero(t, f.cal.mutations())
}

func TestRunOnce_ListFailure(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8))
	f.cal.listErr = errBoom

	_, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.ErrorIs(t, err, ErrCalendarList)
	require.ErrorIs(t, err, errBoom)
	assert.Zero(t, f.cal.mutations())
}

func TestRunOnce_PartialOutcome(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8), course(t, "2", 10))
	f.cal.failInsert["2"] = errBoom

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7})
	require.NoError(t, err)

	assert.Equal(t, OutcomePartial, r.Outcome)
	assert.Equal(t, 1, r.Failed)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, "partial", f.history.records[0].Outcome)
	assert.Contains(t, f.history.records[0].Error, "boom")
}

func TestRunOnce_DryRunNotRecorded(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8))

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 7, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, r.Creates)
	assert.Zero(t, f.cal.mutations())
	assert.Empty(t, f.history.records)
}

func TestRunOnce_NegativeDays(t *testing.T) {
	f := newEngineFixture(t)

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: -1})
	require.Error(t, err)
	require.NotNil(t, r)
	assert.Zero(t, f.auth.calls)
}

func TestRunOnce_ZeroDaysCoversToday(t *testing.T) {
	f := newEngineFixture(t)

	r, err := f.engine.RunOnce(t.Context(), RunOpts{})
	require.NoError(t, err)

	assert.Equal(t, "2024-03-11..2024-03-11", r.Window.String())
	assert.True(t, f.schedule.gotStart.Equal(f.schedule.gotEnd))
}

func TestRunOnce_HistoryErrorIgnored(t *testing.T) {
	f := newEngineFixture(t, course(t, "1", 8))
	f.history.err = errBoom

	r, err := f.engine.RunOnce(t.Context(), RunOpts{DaysToCheck: 1})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, r.Outcome)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil, nil))
	assert.Equal(t, OutcomeSuccess, Classify(&Report{}, nil))
	assert.Equal(t, OutcomePartial, Classify(&Report{Failed: 2}, nil))
	assert.Equal(t, OutcomeChallengeNeeded, Classify(nil, portal.ErrChallengeDataMissing))
	assert.Equal(t, OutcomeFailure, Classify(nil, ErrCalendarList))
}

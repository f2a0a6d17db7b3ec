package sync

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/timetable-sync/internal/portal"
)

type runResult struct {
	report *Report
	err    error
}

// scriptedRunner replays results; after the script it returns clean runs.
type scriptedRunner struct {
	script []runResult
	calls  int
	opts   []RunOpts
	hook   func(call int)
}

func (r *scriptedRunner) RunOnce(_ context.Context, opts RunOpts) (*Report, error) {
	r.calls++
	r.opts = append(r.opts, opts)

	if r.hook != nil {
		r.hook(r.calls)
	}

	if r.calls <= len(r.script) {
		res := r.script[r.calls-1]
		return res.report, res.err
	}

	return cleanRun(), nil
}

func newTestSupervisor(runner Runner, wd WatchdogConfig) (*Supervisor, *[]time.Duration) {
	var sleeps []time.Duration

	s := NewSupervisor(SupervisorConfig{
		Runner:   runner,
		Options:  func() RunOpts { return RunOpts{DaysToCheck: 3} },
		Schedule: func() cron.Schedule { return cron.Every(30 * time.Minute) },
		Watchdog: wd,
		Logger:   quietLogger(),
	})

	now := time.Date(2024, 3, 11, 8, 0, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return now }
	s.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		now = now.Add(d)

		return nil
	}

	return s, &sleeps
}

func TestSupervisor_StopsAfterCleanRuns(t *testing.T) {
	runner := &scriptedRunner{}
	s, sleeps := newTestSupervisor(runner, WatchdogConfig{MaxCleanRuns: 3})

	require.NoError(t, s.Run(t.Context()))

	assert.Equal(t, 3, runner.calls)
	assert.Len(t, *sleeps, 2)
	assert.Equal(t, 30*time.Minute, (*sleeps)[0])
	assert.Equal(t, 3, runner.opts[0].DaysToCheck)
}

func TestSupervisor_ChallengeExtendsLoop(t *testing.T) {
	runner := &scriptedRunner{script: []runResult{
		{report: cleanRun()},
		{report: answeredRun()},
	}}
	s, _ := newTestSupervisor(runner, WatchdogConfig{MaxCleanRuns: 2})

	require.NoError(t, s.Run(t.Context()))
	assert.Equal(t, 4, runner.calls)
}

func TestSupervisor_AbortsOnRepeatedAuthFailure(t *testing.T) {
	runner := &scriptedRunner{script: []runResult{
		{report: &Report{}, err: portal.ErrBadCredentials},
		{report: &Report{}, err: portal.ErrBadCredentials},
	}}
	s, _ := newTestSupervisor(runner, WatchdogConfig{MaxAuthFailures: 2})

	err := s.Run(t.Context())
	require.ErrorIs(t, err, ErrAuthExhausted)
	assert.Equal(t, 2, runner.calls)
}

func TestSupervisor_OnReportSeesEveryRun(t *testing.T) {
	runner := &scriptedRunner{script: []runResult{{report: &Report{}, err: errBoom}}}
	s, _ := newTestSupervisor(runner, WatchdogConfig{MaxCleanRuns: 1})

	var seen []error
	s.cfg.OnReport = func(_ *Report, err error) { seen = append(seen, err) }

	require.NoError(t, s.Run(t.Context()))
	require.Len(t, seen, 2)
	require.ErrorIs(t, seen[0], errBoom)
	assert.NoError(t, seen[1])
}

func TestSupervisor_CancelReturnsNil(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())

	runner := &scriptedRunner{hook: func(call int) {
		if call == 2 {
			cancel()
		}
	}}
	s, _ := newTestSupervisor(runner, WatchdogConfig{MaxCleanRuns: 10})

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 2, runner.calls)
}

func TestSupervisor_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	runner := &scriptedRunner{}
	s, _ := newTestSupervisor(runner, WatchdogConfig{MaxCleanRuns: 10})
	s.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, runner.calls)
}

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule(DefaultSchedule)
	require.NoError(t, err)

	from := time.Date(2024, 3, 11, 8, 10, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 11, 8, 30, 0, 0, time.UTC), sched.Next(from))

	_, err = ParseSchedule("@hourly")
	require.NoError(t, err)

	_, err = ParseSchedule("every minute")
	require.Error(t, err)
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(t.Context(), time.Millisecond))
	require.NoError(t, sleepCtx(t.Context(), 0))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

package sync

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/timetable-sync/internal/portal"
)

// Watchdog defaults. Every bound is positive so a supervised loop always
// terminates.
const (
	DefaultMaxCleanRuns           = 10
	DefaultMaxConsecutiveFailures = 5
	DefaultMaxAuthFailures        = 3
	DefaultMaxRuns                = 48
)

// Verdict tells the supervisor what to do after a run.
type Verdict int

// Verdicts.
const (
	VerdictContinue Verdict = iota
	VerdictDone             // enough clean runs, or the run cap was reached
	VerdictAbort            // too many consecutive failures or auth failures
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictDone:
		return "done"
	case VerdictAbort:
		return "abort"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// WatchdogConfig bounds a supervised loop.
type WatchdogConfig struct {
	MaxCleanRuns           int // stop after this many consecutive runs without a challenge
	MaxConsecutiveFailures int // abort after this many consecutive failed runs
	MaxAuthFailures        int // abort after this many consecutive auth or challenge failures
	MaxRuns                int // hard cap on runs
}

// Watchdog holds the counters of one supervised loop. It is plain state:
// each loop owns its own Watchdog.
type Watchdog struct {
	cfg          WatchdogConfig
	clean        int
	failures     int
	authFailures int
	runs         int
}

// NewWatchdog creates a Watchdog; non-positive bounds take the defaults.
func NewWatchdog(cfg WatchdogConfig) *Watchdog {
	if cfg.MaxCleanRuns <= 0 {
		cfg.MaxCleanRuns = DefaultMaxCleanRuns
	}

	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}

	if cfg.MaxAuthFailures <= 0 {
		cfg.MaxAuthFailures = DefaultMaxAuthFailures
	}

	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = DefaultMaxRuns
	}

	return &Watchdog{cfg: cfg}
}

// Observe updates the counters with the result of one run.
//
// A run that authenticated without a challenge counts as clean. A run
// whose challenge was answered (from the cache or by the user) resets the
// clean count, since a new question may come next. A failed run resets
// the clean count and adds to the failure count. Auth and challenge
// failures also add to a separate auth count with its own bound, which
// yields ErrAuthExhausted; the general bound yields ErrRunsExhausted. A
// successful run clears both counts. The returned error is set only with
// VerdictAbort.
func (w *Watchdog) Observe(r *Report, runErr error) (Verdict, error) {
	w.runs++

	if runErr != nil {
		w.clean = 0
		w.failures++

		if isAuthFailure(runErr) {
			w.authFailures++
		}

		if w.authFailures >= w.cfg.MaxAuthFailures {
			return VerdictAbort, fmt.Errorf("%w: %d consecutive auth failures, last: %w",
				ErrAuthExhausted, w.authFailures, runErr)
		}

		if w.failures >= w.cfg.MaxConsecutiveFailures {
			return VerdictAbort, fmt.Errorf("%w: %d consecutive failures, last: %w",
				ErrRunsExhausted, w.failures, runErr)
		}

		return w.capped(), nil
	}

	w.failures = 0
	w.authFailures = 0

	if r != nil && r.Challenge == portal.ChallengeNone {
		w.clean++
	} else {
		w.clean = 0
	}

	if w.clean >= w.cfg.MaxCleanRuns {
		return VerdictDone, nil
	}

	return w.capped(), nil
}

func (w *Watchdog) capped() Verdict {
	if w.runs >= w.cfg.MaxRuns {
		return VerdictDone
	}

	return VerdictContinue
}

// Counts returns the current clean, failure and total run counts.
func (w *Watchdog) Counts() (clean, failures, runs int) {
	return w.clean, w.failures, w.runs
}

// AuthFailures returns the current count of consecutive auth failures.
func (w *Watchdog) AuthFailures() int {
	return w.authFailures
}

func isAuthFailure(err error) bool {
	return errors.Is(err, portal.ErrAuth) || errors.Is(err, portal.ErrChallengeDataMissing)
}

package sync

import (
	"log/slog"
	"sync"
	"time"
)

// Suppression constants for supervised runs.
const (
	failureThreshold = 3                // skip after this many failures
	failureCooldown  = 30 * time.Minute // forget failures older than this
)

type failureRecord struct {
	count   int
	lastErr string
	lastAt  time.Time
}

// failureTracker suppresses courses whose calendar operations keep failing
// across supervised runs, so one bad event does not burn the quota every
// cycle. A course that fails failureThreshold times within failureCooldown
// is skipped until the cooldown passes. Success clears the record.
type failureTracker struct {
	mu      sync.Mutex
	records map[string]*failureRecord
	logger  *slog.Logger
	nowFunc func() time.Time
}

func newFailureTracker(logger *slog.Logger) *failureTracker {
	return &failureTracker{
		records: make(map[string]*failureRecord),
		logger:  logger,
		nowFunc: time.Now,
	}
}

// shouldSkip reports whether courseID is currently suppressed.
func (ft *failureTracker) shouldSkip(courseID string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[courseID]
	if !ok {
		return false
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		delete(ft.records, courseID)
		return false
	}

	return rec.count >= failureThreshold
}

func (ft *failureTracker) recordFailure(courseID, errMsg string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	rec, ok := ft.records[courseID]
	if !ok {
		rec = &failureRecord{}
		ft.records[courseID] = rec
	}

	if ft.nowFunc().Sub(rec.lastAt) > failureCooldown {
		rec.count = 0
	}

	rec.count++
	rec.lastErr = errMsg
	rec.lastAt = ft.nowFunc()

	if rec.count == failureThreshold {
		ft.logger.Warn("course suppressed after repeated calendar failures",
			slog.String("course_id", courseID),
			slog.Int("failures", rec.count),
			slog.String("last_error", errMsg),
			slog.Duration("cooldown", failureCooldown),
		)
	}
}

func (ft *failureTracker) recordSuccess(courseID string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	delete(ft.records, courseID)
}

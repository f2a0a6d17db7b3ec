package state

import (
	"context"
	"fmt"
	"time"
)

const (
	sqlInsertRun = `INSERT INTO runs
		(id, started_at, finished_at, outcome, window_start, window_end,
		 challenge, created, deleted, unchanged, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlRecentRuns = `SELECT id, started_at, finished_at, outcome, window_start, window_end,
		challenge, created, deleted, unchanged, failed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`
)

// RunRecord is one row of the run history.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Outcome     string
	WindowStart string // YYYY-MM-DD
	WindowEnd   string // YYYY-MM-DD
	Challenge   string
	Created     int
	Deleted     int
	Unchanged   int
	Failed      int
	Error       string
}

// RecordRun appends a run to the history.
func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	_, err := s.db.ExecContext(ctx, sqlInsertRun,
		r.ID, r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), r.Outcome,
		r.WindowStart, r.WindowEnd, r.Challenge,
		r.Created, r.Deleted, r.Unchanged, r.Failed, r.Error,
	)
	if err != nil {
		return fmt.Errorf("state: recording run %s: %w", r.ID, err)
	}

	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("state: listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord

	for rows.Next() {
		var (
			r                 RunRecord
			started, finished int64
		)

		if err := rows.Scan(
			&r.ID, &started, &finished, &r.Outcome, &r.WindowStart, &r.WindowEnd,
			&r.Challenge, &r.Created, &r.Deleted, &r.Unchanged, &r.Failed, &r.Error,
		); err != nil {
			return nil, fmt.Errorf("state: scanning run row: %w", err)
		}

		r.StartedAt = time.Unix(0, started)
		r.FinishedAt = time.Unix(0, finished)
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating run rows: %w", err)
	}

	return out, nil
}

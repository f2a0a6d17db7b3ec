package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/timetable-sync/internal/challenge"
)

// Answer sources as stored in the answers.source column.
const (
	SourceConfirmed = "confirmed" // accepted by the portal during a login
	SourceImported  = "imported"  // loaded from a legacy answers file
)

const (
	sqlLookupAnswer = `SELECT answer FROM answers WHERE question = ?`

	sqlUpsertAnswer = `INSERT INTO answers (question, answer, source, recorded_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET
		 answer = excluded.answer,
		 source = excluded.source,
		 updated_at = excluded.updated_at`

	sqlListAnswers = `SELECT question, answer, source, recorded_at, updated_at
		FROM answers ORDER BY recorded_at, question`
)

// AnswerEntry is one row of the challenge answer cache.
type AnswerEntry struct {
	Question   challenge.Question
	Answer     challenge.Answer
	Source     string
	RecordedAt time.Time
	UpdatedAt  time.Time
}

// Lookup returns the cached answer for q, if any.
func (s *Store) Lookup(ctx context.Context, q challenge.Question) (challenge.Answer, bool, error) {
	var answer string

	err := s.db.QueryRowContext(ctx, sqlLookupAnswer, string(q)).Scan(&answer)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("state: looking up answer %s: %w", q.Fingerprint(), err)
	}

	return challenge.Answer(answer), true, nil
}

// Record stores a portal-confirmed answer for q. Recording an identical
// entry is a no-op; a different answer replaces the previous one.
func (s *Store) Record(ctx context.Context, q challenge.Question, a challenge.Answer) error {
	_, err := s.record(ctx, q, a, SourceConfirmed, true)
	return err
}

// Import loads question/answer pairs from a legacy answers file. Unlike
// Record, an import never replaces an answer already in the cache because
// it was not confirmed by the portal. Returns the number of new entries
// and the number of conflicting entries left untouched.
func (s *Store) Import(ctx context.Context, entries map[challenge.Question]challenge.Answer) (added, conflicts int, err error) {
	for q, a := range entries {
		changed, recErr := s.record(ctx, q, a, SourceImported, false)
		if errors.Is(recErr, errAnswerConflict) {
			conflicts++
			continue
		}

		if recErr != nil {
			return added, conflicts, recErr
		}

		if changed {
			added++
		}
	}

	return added, conflicts, nil
}

// Answers returns every cached entry, oldest first.
func (s *Store) Answers(ctx context.Context) ([]AnswerEntry, error) {
	rows, err := s.db.QueryContext(ctx, sqlListAnswers)
	if err != nil {
		return nil, fmt.Errorf("state: listing answers: %w", err)
	}
	defer rows.Close()

	var out []AnswerEntry

	for rows.Next() {
		var (
			e                   AnswerEntry
			question, answer    string
			recorded, updatedAt int64
		)

		if err := rows.Scan(&question, &answer, &e.Source, &recorded, &updatedAt); err != nil {
			return nil, fmt.Errorf("state: scanning answer row: %w", err)
		}

		e.Question = challenge.Question(question)
		e.Answer = challenge.Answer(answer)
		e.RecordedAt = time.Unix(0, recorded)
		e.UpdatedAt = time.Unix(0, updatedAt)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterating answer rows: %w", err)
	}

	return out, nil
}

var errAnswerConflict = errors.New("state: cached answer differs")

// record writes q -> a inside one transaction. When overwrite is false an
// existing different answer yields errAnswerConflict. Reports whether a
// row was inserted or changed.
func (s *Store) record(
	ctx context.Context, q challenge.Question, a challenge.Answer, source string, overwrite bool,
) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("state: beginning answer transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		existing   string
		recordedAt = s.nowFunc().UnixNano()
	)

	err = tx.QueryRowContext(ctx, sqlLookupAnswer, string(q)).Scan(&existing)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		// New question.
	case err != nil:
		return false, fmt.Errorf("state: reading answer %s: %w", q.Fingerprint(), err)
	case existing == string(a):
		return false, nil
	case !overwrite:
		return false, errAnswerConflict
	default:
		s.logger.Info("replacing cached challenge answer",
			slog.String("question", q.Fingerprint()),
			slog.String("old_answer", challenge.Answer(existing).Fingerprint()),
			slog.String("new_answer", a.Fingerprint()),
		)
	}

	if _, err := tx.ExecContext(ctx, sqlUpsertAnswer,
		string(q), string(a), source, recordedAt, recordedAt,
	); err != nil {
		return false, fmt.Errorf("state: writing answer %s: %w", q.Fingerprint(), err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("state: committing answer %s: %w", q.Fingerprint(), err)
	}

	s.logger.Debug("challenge answer recorded",
		slog.String("question", q.Fingerprint()),
		slog.String("source", source),
	)

	return true, nil
}

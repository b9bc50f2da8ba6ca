// Package postgres implements the repositories on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

var sqlBuilder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var attemptColumns = []string{
	"id", "test_id", "user_id", "started_at", "completed_at",
	"answers", "time_per_question", "fullscreen_exit_count",
	"score", "total_marks", "rank", "percentile", "time_taken_seconds",
	"submit_reason", "outcomes",
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a        model.Attempt
		answers  []byte
		times    []byte
		outcomes []byte
		reason   *string
	)
	err := row.Scan(
		&a.ID, &a.TestID, &a.UserID, &a.StartedAt, &a.CompletedAt,
		&answers, &times, &a.ExitCount,
		&a.Score, &a.TotalMarks, &a.Rank, &a.Percentile, &a.TimeTakenSeconds,
		&reason, &outcomes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if err := unmarshalJSON(answers, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", a.ID, err)
	}
	if err := unmarshalJSON(times, &a.TimePerQuestion); err != nil {
		return nil, fmt.Errorf("decode time_per_question of %s: %w", a.ID, err)
	}
	if err := unmarshalJSON(outcomes, &a.Outcomes); err != nil {
		return nil, fmt.Errorf("decode outcomes of %s: %w", a.ID, err)
	}
	if a.Answers == nil {
		a.Answers = model.AnswerSet{}
	}
	if a.TimePerQuestion == nil {
		a.TimePerQuestion = model.TimeMap{}
	}
	if reason != nil {
		r := model.SubmitReason(*reason)
		a.SubmitReason = &r
	}
	return &a, nil
}

func unmarshalJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// inTx runs fn in a transaction, rolling back on error.
func inTx(ctx context.Context, db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, db, fn)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/scoring"
)

// AttemptRepository handles attempt data access. Writes to one attempt are
// serialized by its row lock.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

var _ repository.AttemptStore = (*AttemptRepository)(nil)

// Create inserts a new open attempt. The partial unique index on
// (user_id, test_id) WHERE completed_at IS NULL turns a concurrent start into
// ErrConflict.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Answers == nil {
		a.Answers = model.AnswerSet{}
	}
	if a.TimePerQuestion == nil {
		a.TimePerQuestion = model.TimeMap{}
	}
	answers, err := marshalJSON(a.Answers)
	if err != nil {
		return err
	}
	times, err := marshalJSON(a.TimePerQuestion)
	if err != nil {
		return err
	}

	var startedAt *time.Time
	if !a.StartedAt.IsZero() {
		startedAt = &a.StartedAt
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO attempts (id, test_id, user_id, started_at, answers, time_per_question, fullscreen_exit_count)
		 VALUES ($1, $2, $3, COALESCE($4::timestamptz, NOW()), $5::jsonb, $6::jsonb, $7)
		 ON CONFLICT (user_id, test_id) WHERE completed_at IS NULL DO NOTHING
		 RETURNING started_at`,
		a.ID, a.TestID, a.UserID, startedAt, answers, times, a.ExitCount,
	).Scan(&a.StartedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrConflict
	}
	return err
}

// GetByID retrieves an attempt by id.
func (r *AttemptRepository) GetByID(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	query, args, err := sqlBuilder.Select(attemptColumns...).
		From("attempts").
		Where(squirrel.Eq{"id": attemptID}).
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanAttempt(r.pool.QueryRow(ctx, query, args...))
}

// FindLatest returns the user's completed attempt at the test if one exists,
// else the newest open one.
func (r *AttemptRepository) FindLatest(ctx context.Context, userID int, testID uuid.UUID) (*model.Attempt, error) {
	query, args, err := sqlBuilder.Select(attemptColumns...).
		From("attempts").
		Where(squirrel.Eq{"user_id": userID, "test_id": testID}).
		OrderBy("(completed_at IS NOT NULL) DESC", "started_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanAttempt(r.pool.QueryRow(ctx, query, args...))
}

// SaveProgress replaces answers and max-merges per-question times.
func (r *AttemptRepository) SaveProgress(ctx context.Context, attemptID uuid.UUID, answers model.AnswerSet, times model.TimeMap) (bool, error) {
	saved := false
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := r.lock(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if a.IsCompleted() {
			return nil
		}

		rawAnswers, err := marshalJSON(answers.Clone())
		if err != nil {
			return err
		}
		rawTimes, err := marshalJSON(a.TimePerQuestion.MergeMonotonic(times))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE attempts
			 SET answers = $2::jsonb, time_per_question = $3::jsonb, updated_at = NOW()
			 WHERE id = $1 AND completed_at IS NULL`,
			attemptID, rawAnswers, rawTimes,
		); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		saved = true
		return nil
	})
	return saved, err
}

// RaiseExitCount stores GREATEST(stored, count) on an open attempt and
// returns the stored value.
func (r *AttemptRepository) RaiseExitCount(ctx context.Context, attemptID uuid.UUID, count int) (int, error) {
	var stored int
	err := r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET fullscreen_exit_count = GREATEST(fullscreen_exit_count, $2), updated_at = NOW()
		 WHERE id = $1 AND completed_at IS NULL
		 RETURNING fullscreen_exit_count`,
		attemptID, count,
	).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Completed or missing.
	err = r.pool.QueryRow(ctx, `SELECT fullscreen_exit_count FROM attempts WHERE id = $1`, attemptID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	return stored, err
}

// Finalize locks the attempt row and, if still open, writes the completion
// returned by fn in the same transaction. Rank computation for a test is
// serialized with an advisory lock on the test id.
func (r *AttemptRepository) Finalize(ctx context.Context, attemptID uuid.UUID, fn repository.FinalizeFunc) (*model.Attempt, bool, error) {
	var (
		result  *model.Attempt
		already bool
	)

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := r.lock(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if a.IsCompleted() {
			result, already = a, true
			return nil
		}

		if err := lockTest(ctx, tx, a.TestID); err != nil {
			return err
		}
		peers, err := standings(ctx, tx, a.TestID, a.ID)
		if err != nil {
			return err
		}

		c, err := fn(a.Clone(), peers)
		if err != nil {
			return err
		}
		a.Complete(c)

		if err := writeCompletion(ctx, tx, a); err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, already, nil
}

// RecomputePlacements rewrites rank and percentile for every completed attempt
// of a test with one UNNEST update.
func (r *AttemptRepository) RecomputePlacements(ctx context.Context, testID uuid.UUID, rank repository.RankFunc) (int, error) {
	var placed int
	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := lockTest(ctx, tx, testID); err != nil {
			return err
		}
		all, err := standings(ctx, tx, testID, uuid.Nil)
		if err != nil {
			return err
		}
		placements := rank(all)
		if len(placements) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(placements))
		ranks := make([]int32, len(placements))
		pcts := make([]float64, len(placements))
		for i, p := range placements {
			ids[i] = p.AttemptID
			ranks[i] = int32(p.Rank)
			pcts[i] = p.Percentile
		}

		tag, err := tx.Exec(ctx, `
			UPDATE attempts AS a
			SET rank = u.rank,
			    percentile = u.percentile
			FROM UNNEST($1::uuid[], $2::int[], $3::float8[]) AS u (id, rank, percentile)
			WHERE a.id = u.id
			  AND a.completed_at IS NOT NULL
		`, ids, ranks, pcts)
		if err != nil {
			return fmt.Errorf("update placements: %w", err)
		}
		placed = int(tag.RowsAffected())
		return nil
	})
	return placed, err
}

func (r *AttemptRepository) lock(ctx context.Context, tx pgx.Tx, attemptID uuid.UUID) (*model.Attempt, error) {
	query, args, err := sqlBuilder.Select(attemptColumns...).
		From("attempts").
		Where(squirrel.Eq{"id": attemptID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	return scanAttempt(tx.QueryRow(ctx, query, args...))
}

func lockTest(ctx context.Context, tx pgx.Tx, testID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, testID.String())
	if err != nil {
		return fmt.Errorf("lock test %s: %w", testID, err)
	}
	return nil
}

// standings loads the completed attempts of a test, leaving out exclude.
func standings(ctx context.Context, tx pgx.Tx, testID, exclude uuid.UUID) ([]scoring.Standing, error) {
	q := sqlBuilder.Select("id", "score", "COALESCE(time_taken_seconds, 0)", "completed_at").
		From("attempts").
		Where(squirrel.Eq{"test_id": testID}).
		Where(squirrel.NotEq{"completed_at": nil})
	if exclude != uuid.Nil {
		q = q.Where(squirrel.NotEq{"id": exclude})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load standings: %w", err)
	}
	defer rows.Close()

	var out []scoring.Standing
	for rows.Next() {
		var s scoring.Standing
		if err := rows.Scan(&s.AttemptID, &s.Score, &s.TimeTakenSeconds, &s.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func writeCompletion(ctx context.Context, tx pgx.Tx, a *model.Attempt) error {
	answers, err := marshalJSON(a.Answers)
	if err != nil {
		return err
	}
	times, err := marshalJSON(a.TimePerQuestion)
	if err != nil {
		return err
	}
	outcomes, err := marshalJSON(a.Outcomes)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET completed_at = $2,
		     answers = $3::jsonb,
		     time_per_question = $4::jsonb,
		     fullscreen_exit_count = GREATEST(fullscreen_exit_count, $5),
		     score = $6,
		     total_marks = $7,
		     rank = $8,
		     percentile = $9,
		     time_taken_seconds = $10,
		     submit_reason = $11,
		     outcomes = $12::jsonb,
		     updated_at = NOW()
		 WHERE id = $1 AND completed_at IS NULL`,
		a.ID, a.CompletedAt, answers, times, a.ExitCount,
		a.Score, a.TotalMarks, a.Rank, a.Percentile, a.TimeTakenSeconds,
		string(*a.SubmitReason), outcomes,
	)
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("write completion: attempt %s changed underneath", a.ID)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// TestRepository reads test definitions from the question content tables.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

var _ repository.TestStore = (*TestRepository)(nil)

// GetTest loads a test with its questions ordered by order_num.
func (r *TestRepository) GetTest(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	t := &model.TestDefinition{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_seconds, max_exits FROM tests WHERE id = $1`, testID,
	).Scan(&t.ID, &t.Title, &t.DurationSeconds, &t.MaxExits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, options, correct_answer, positive_marks, negative_marks, order_num
		 FROM test_questions WHERE test_id = $1
		 ORDER BY order_num, id`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       model.QuestionSpec
			kind    string
			options []byte
			key     []byte
		)
		if err := rows.Scan(&q.ID, &kind, &options, &key, &q.PositiveMarks, &q.NegativeMarks, &q.OrderNum); err != nil {
			return nil, err
		}
		q.Kind = model.QuestionKind(kind)
		if err := unmarshalJSON(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		if err := unmarshalJSON(key, &q.CorrectAnswer); err != nil {
			return nil, fmt.Errorf("decode key of %s: %w", q.ID, err)
		}
		t.Questions = append(t.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// IntegrityRepository writes the integrity audit trail.
type IntegrityRepository struct {
	pool *pgxpool.Pool
}

// NewIntegrityRepository creates a new IntegrityRepository.
func NewIntegrityRepository(pool *pgxpool.Pool) *IntegrityRepository {
	return &IntegrityRepository{pool: pool}
}

var _ repository.IntegrityEventStore = (*IntegrityRepository)(nil)

var integrityColumns = []string{"attempt_id", "test_id", "user_id", "kind", "exit_count", "detail", "recorded_at"}

// CopyEvents bulk-inserts events with COPY.
func (r *IntegrityRepository) CopyEvents(ctx context.Context, events []model.IntegrityEvent) (int64, error) {
	return r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"integrity_events"},
		integrityColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{e.AttemptID, e.TestID, e.UserID, e.Kind, e.ExitCount, e.Detail, recordedAt(e)}, nil
		}),
	)
}

// InsertEvent inserts one event.
func (r *IntegrityRepository) InsertEvent(ctx context.Context, e model.IntegrityEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO integrity_events (attempt_id, test_id, user_id, kind, exit_count, detail, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.AttemptID, e.TestID, e.UserID, e.Kind, e.ExitCount, e.Detail, recordedAt(e),
	)
	return err
}

func recordedAt(e model.IntegrityEvent) time.Time {
	if e.RecordedAt == 0 {
		return time.Now()
	}
	return time.UnixMilli(e.RecordedAt)
}

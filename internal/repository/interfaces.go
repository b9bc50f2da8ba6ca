package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/scoring"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by Create when the user already has an open
	// attempt at the test.
	ErrConflict = errors.New("open attempt already exists")
)

// TestStore reads test definitions from the content store.
type TestStore interface {
	GetTest(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error)
}

// FinalizeFunc computes the completion of a locked, still-open attempt.
// peers are the standings of every other completed attempt of the same test.
type FinalizeFunc func(a *model.Attempt, peers []scoring.Standing) (model.Completion, error)

// RankFunc places every completed attempt of a test.
type RankFunc func(standings []scoring.Standing) []scoring.Placement

// AttemptStore persists attempts. Every write to one attempt is serialized
// with every other write to it, and no write changes a completed attempt
// except RecomputePlacements.
type AttemptStore interface {
	// Create inserts a new open attempt, filling ID and StartedAt when zero.
	Create(ctx context.Context, a *model.Attempt) error
	GetByID(ctx context.Context, attemptID uuid.UUID) (*model.Attempt, error)
	// FindLatest returns the user's attempt at the test, preferring a
	// completed one over an open one.
	FindLatest(ctx context.Context, userID int, testID uuid.UUID) (*model.Attempt, error)
	// SaveProgress replaces answers and raises per-question times to
	// max(stored, incoming). It reports false when the attempt is completed.
	SaveProgress(ctx context.Context, attemptID uuid.UUID, answers model.AnswerSet, times model.TimeMap) (bool, error)
	// RaiseExitCount stores max(stored, count) and returns the stored value.
	RaiseExitCount(ctx context.Context, attemptID uuid.UUID, count int) (int, error)
	// Finalize locks the attempt, and if it is still open applies fn's
	// completion atomically. alreadyCompleted is true when fn was not called.
	Finalize(ctx context.Context, attemptID uuid.UUID, fn FinalizeFunc) (a *model.Attempt, alreadyCompleted bool, err error)
	// RecomputePlacements rewrites rank and percentile of every completed
	// attempt of the test and returns how many were placed.
	RecomputePlacements(ctx context.Context, testID uuid.UUID, rank RankFunc) (int, error)
}

// IntegrityEventStore keeps the audit trail of counted exits.
type IntegrityEventStore interface {
	CopyEvents(ctx context.Context, events []model.IntegrityEvent) (int64, error)
	InsertEvent(ctx context.Context, e model.IntegrityEvent) error
}

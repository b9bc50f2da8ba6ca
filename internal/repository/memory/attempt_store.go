// Package memory holds in-process stores used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/scoring"
)

// AttemptStore is a mutex-guarded repository.AttemptStore. Callers only ever
// see copies.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*model.Attempt
	now      func() time.Time
}

// NewAttemptStore returns an empty store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[uuid.UUID]*model.Attempt), now: time.Now}
}

var _ repository.AttemptStore = (*AttemptStore)(nil)

func (s *AttemptStore) Create(_ context.Context, a *model.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.attempts {
		if existing.UserID == a.UserID && existing.TestID == a.TestID && !existing.IsCompleted() {
			return repository.ErrConflict
		}
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = s.now()
	}
	if a.Answers == nil {
		a.Answers = model.AnswerSet{}
	}
	if a.TimePerQuestion == nil {
		a.TimePerQuestion = model.TimeMap{}
	}
	s.attempts[a.ID] = a.Clone()
	return nil
}

func (s *AttemptStore) GetByID(_ context.Context, attemptID uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *AttemptStore) FindLatest(_ context.Context, userID int, testID uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *model.Attempt
	for _, a := range s.attempts {
		if a.UserID != userID || a.TestID != testID {
			continue
		}
		switch {
		case best == nil:
			best = a
		case a.IsCompleted() && !best.IsCompleted():
			best = a
		case a.IsCompleted() == best.IsCompleted() && a.StartedAt.After(best.StartedAt):
			best = a
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	return best.Clone(), nil
}

func (s *AttemptStore) SaveProgress(_ context.Context, attemptID uuid.UUID, answers model.AnswerSet, times model.TimeMap) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if a.IsCompleted() {
		return false, nil
	}
	a.Answers = answers.Clone()
	a.TimePerQuestion = a.TimePerQuestion.MergeMonotonic(times)
	return true, nil
}

func (s *AttemptStore) RaiseExitCount(_ context.Context, attemptID uuid.UUID, count int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if !a.IsCompleted() && count > a.ExitCount {
		a.ExitCount = count
	}
	return a.ExitCount, nil
}

func (s *AttemptStore) Finalize(_ context.Context, attemptID uuid.UUID, fn repository.FinalizeFunc) (*model.Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, false, repository.ErrNotFound
	}
	if a.IsCompleted() {
		return a.Clone(), true, nil
	}

	var peers []scoring.Standing
	for _, other := range s.attempts {
		if other.ID == a.ID || other.TestID != a.TestID || !other.IsCompleted() {
			continue
		}
		peers = append(peers, standingOf(other))
	}

	completion, err := fn(a.Clone(), peers)
	if err != nil {
		return nil, false, err
	}

	a.Complete(completion)
	return a.Clone(), false, nil
}

func (s *AttemptStore) RecomputePlacements(_ context.Context, testID uuid.UUID, rank repository.RankFunc) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var standings []scoring.Standing
	for _, a := range s.attempts {
		if a.TestID == testID && a.IsCompleted() {
			standings = append(standings, standingOf(a))
		}
	}
	sort.Slice(standings, func(i, j int) bool { return standings[i].AttemptID.String() < standings[j].AttemptID.String() })

	placements := rank(standings)
	for _, p := range placements {
		a := s.attempts[p.AttemptID]
		r, pct := p.Rank, p.Percentile
		a.Rank = &r
		a.Percentile = &pct
	}
	return len(placements), nil
}

func standingOf(a *model.Attempt) scoring.Standing {
	st := scoring.Standing{AttemptID: a.ID, CompletedAt: *a.CompletedAt}
	if a.Score != nil {
		st.Score = *a.Score
	}
	if a.TimeTakenSeconds != nil {
		st.TimeTakenSeconds = *a.TimeTakenSeconds
	}
	return st
}

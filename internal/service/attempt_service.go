package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/answer"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/integrity"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/queue"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/scoring"
	"github.com/stemsi/exstem-engine/internal/timer"
)

// clientDriftTolerance is how far a client's reported elapsed time may stray
// from the server's before it is logged.
const clientDriftTolerance = 5

// AttemptService owns the attempt lifecycle: start, resume, autosave, exit
// tracking, submit and result.
type AttemptService struct {
	tests           repository.TestStore
	attempts        repository.AttemptStore
	publisher       queue.Publisher
	authority       *timer.Authority
	defaultMaxExits int
	submitGrace     time.Duration
	log             zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	tests repository.TestStore,
	attempts repository.AttemptStore,
	publisher queue.Publisher,
	authority *timer.Authority,
	defaultMaxExits int,
	submitGrace time.Duration,
	log zerolog.Logger,
) *AttemptService {
	if publisher == nil {
		publisher = queue.Discard{}
	}
	if authority == nil {
		authority = timer.NewAuthority(nil)
	}
	return &AttemptService{
		tests:           tests,
		attempts:        attempts,
		publisher:       publisher,
		authority:       authority,
		defaultMaxExits: defaultMaxExits,
		submitGrace:     submitGrace,
		log:             log.With().Str("component", "attempt_service").Logger(),
	}
}

// Authority returns the clock every deadline is measured against.
func (s *AttemptService) Authority() *timer.Authority {
	return s.authority
}

// ExitLimit returns how many exits test tolerates before auto-submit.
func (s *AttemptService) ExitLimit(test *model.TestDefinition) int {
	return test.ExitLimit(s.defaultMaxExits)
}

// Test loads a test definition.
func (s *AttemptService) Test(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	t, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("%w: get test: %w", ErrTransientIO, err)
	}
	return t, nil
}

// Start opens an attempt, or resumes the user's open one.
func (s *AttemptService) Start(ctx context.Context, testID uuid.UUID, userID int) (*model.AttemptSession, error) {
	test, err := s.Test(ctx, testID)
	if err != nil {
		return nil, err
	}

	existing, err := s.attempts.FindLatest(ctx, userID, testID)
	switch {
	case err == nil:
		return s.continueExisting(ctx, existing, test)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("%w: find attempt: %w", ErrTransientIO, err)
	}

	a := &model.Attempt{
		TestID:    testID,
		UserID:    userID,
		StartedAt: s.authority.Now(),
	}
	if err := s.attempts.Create(ctx, a); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: create attempt: %w", ErrTransientIO, err)
		}
		// A concurrent Start won the insert; continue on its row.
		winner, err := s.attempts.FindLatest(ctx, userID, testID)
		if err != nil {
			return nil, fmt.Errorf("%w: refetch attempt: %w", ErrTransientIO, err)
		}
		return s.continueExisting(ctx, winner, test)
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("test_id", testID.String()).
		Int("user_id", userID).
		Msg("Attempt started")

	return s.session(a, test, false), nil
}

func (s *AttemptService) continueExisting(ctx context.Context, a *model.Attempt, test *model.TestDefinition) (*model.AttemptSession, error) {
	if a.IsCompleted() {
		return nil, &AlreadyCompletedError{AttemptID: a.ID}
	}
	return s.resume(ctx, a, test)
}

// Resume rebuilds the session of an attempt. An attempt found past its
// deadline is submitted with reason time_expired and returned as SUBMITTED.
func (s *AttemptService) Resume(ctx context.Context, attemptID uuid.UUID, userID int) (*model.AttemptSession, error) {
	a, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	test, err := s.Test(ctx, a.TestID)
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, a, test)
}

func (s *AttemptService) resume(ctx context.Context, a *model.Attempt, test *model.TestDefinition) (*model.AttemptSession, error) {
	if a.IsCompleted() {
		return s.session(a, test, true), nil
	}

	if s.authority.Expired(a.StartedAt, test.Duration()) {
		s.log.Info().Err(ErrExpiredOnLoad).Str("attempt_id", a.ID.String()).Msg("Submitting expired attempt")
		done, err := s.finalize(ctx, test, SubmitInput{
			AttemptID: a.ID,
			UserID:    a.UserID,
			Reason:    model.SubmitReasonTimeExpired,
		})
		if err != nil {
			return nil, err
		}
		return s.session(done, test, true), nil
	}

	return s.session(a, test, true), nil
}

func (s *AttemptService) session(a *model.Attempt, test *model.TestDefinition, resumed bool) *model.AttemptSession {
	sess := &model.AttemptSession{
		AttemptID:       a.ID,
		TestID:          test.ID,
		Title:           test.Title,
		State:           a.State(),
		Resumed:         resumed,
		StartedAt:       a.StartedAt,
		DurationSeconds: test.DurationSeconds,
		Answers:         a.Answers.Clone(),
		TimePerQuestion: a.TimePerQuestion.Clone(),
		ExitCount:       a.ExitCount,
		MaxExits:        s.ExitLimit(test),
		Result:          a.Result(),
	}
	if !a.IsCompleted() {
		sess.RemainingSeconds = timer.Seconds(s.authority.Remaining(a.StartedAt, test.Duration()))
		sess.Questions = test.ForCandidate()
	}
	return sess
}

// Autosave stores the full answer snapshot of an open attempt. It reports
// false without error when the attempt is already completed or past its
// submit grace.
func (s *AttemptService) Autosave(ctx context.Context, attemptID uuid.UUID, userID int, answers model.AnswerSet, times model.TimeMap) (bool, error) {
	a, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return false, err
	}
	if a.IsCompleted() {
		return false, nil
	}

	test, err := s.Test(ctx, a.TestID)
	if err != nil {
		return false, err
	}
	if s.authority.PastGrace(a.StartedAt, test.Duration(), s.submitGrace) {
		s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Dropping autosave past deadline")
		return false, nil
	}

	normalized, err := answer.NormalizeSet(test, answers)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidAnswer, err)
	}

	saved, err := s.attempts.SaveProgress(ctx, attemptID, normalized, answer.NormalizeTimes(test, times))
	if err != nil {
		return false, storageErr("save progress", err)
	}
	return saved, nil
}

// ExitInput reports the client's exit counter for an attempt.
type ExitInput struct {
	AttemptID uuid.UUID
	UserID    int
	Count     int
	Kind      integrity.EventKind
	Detail    string
}

// ExitStatus is the stored exit counter after an update.
type ExitStatus struct {
	ExitCount     int  `json:"exit_count"`
	MaxExits      int  `json:"max_exits"`
	LimitExceeded bool `json:"limit_exceeded"`
}

// UpdateExitCount stores max(stored, count). A completed attempt is left
// untouched and its stored count returned. Each increase is published to the
// integrity audit queue.
func (s *AttemptService) UpdateExitCount(ctx context.Context, in ExitInput) (*ExitStatus, error) {
	a, err := s.owned(ctx, in.AttemptID, in.UserID)
	if err != nil {
		return nil, err
	}
	test, err := s.Test(ctx, a.TestID)
	if err != nil {
		return nil, err
	}

	status := &ExitStatus{ExitCount: a.ExitCount, MaxExits: s.ExitLimit(test)}
	if a.IsCompleted() {
		status.LimitExceeded = status.ExitCount > status.MaxExits
		return status, nil
	}

	stored, err := s.attempts.RaiseExitCount(ctx, in.AttemptID, in.Count)
	if err != nil {
		return nil, storageErr("raise exit count", err)
	}
	status.ExitCount = stored
	status.LimitExceeded = stored > status.MaxExits

	if stored > a.ExitCount {
		kind := in.Kind
		if kind == "" {
			kind = integrity.EventFullscreenExit
		}
		s.publishExit(ctx, model.IntegrityEvent{
			AttemptID:  a.ID,
			TestID:     a.TestID,
			UserID:     a.UserID,
			Kind:       string(kind),
			ExitCount:  stored,
			Detail:     in.Detail,
			RecordedAt: s.authority.Now().UnixMilli(),
		})
	}
	return status, nil
}

func (s *AttemptService) publishExit(ctx context.Context, e model.IntegrityEvent) {
	if err := s.publisher.Enqueue(ctx, config.WorkerKey.PersistIntegrityEventsQueue, e); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", e.AttemptID.String()).Msg("Failed to queue integrity event")
	}
}

// SubmitInput is everything a submit carries. Answers and Times are merged
// over the autosaved state; empty answers clear a question.
type SubmitInput struct {
	AttemptID uuid.UUID
	UserID    int
	Answers   model.AnswerSet
	Times     model.TimeMap
	ExitCount int
	Reason    model.SubmitReason
	// ClientElapsedSeconds is only compared against the server's clock.
	ClientElapsedSeconds int
}

// Submit finalizes an attempt exactly once. Repeated calls return the stored
// result.
func (s *AttemptService) Submit(ctx context.Context, in SubmitInput) (*model.ScoreResult, error) {
	a, err := s.owned(ctx, in.AttemptID, in.UserID)
	if err != nil {
		return nil, err
	}
	if a.IsCompleted() {
		return a.Result(), nil
	}

	test, err := s.Test(ctx, a.TestID)
	if err != nil {
		return nil, err
	}
	done, err := s.finalize(ctx, test, in)
	if err != nil {
		return nil, err
	}
	return done.Result(), nil
}

func (s *AttemptService) finalize(ctx context.Context, test *model.TestDefinition, in SubmitInput) (*model.Attempt, error) {
	if in.Reason == "" {
		in.Reason = model.SubmitReasonUserAction
	}
	incoming, err := answer.NormalizeIncoming(test, in.Answers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAnswer, err)
	}
	times := answer.NormalizeTimes(test, in.Times)
	duration := test.Duration()

	done, already, err := s.attempts.Finalize(ctx, in.AttemptID, func(locked *model.Attempt, peers []scoring.Standing) (model.Completion, error) {
		if s.authority.PastGrace(locked.StartedAt, duration, s.submitGrace) && (len(incoming) > 0 || len(times) > 0) {
			s.log.Warn().Str("attempt_id", locked.ID.String()).Msg("Final payload arrived past grace, scoring stored answers")
			incoming, times = nil, nil
		}

		answers := locked.Answers.Merge(incoming)
		ev := scoring.Evaluate(test.Questions, answers)

		now := s.authority.Now()
		taken := timer.Seconds(s.authority.Elapsed(locked.StartedAt, duration))
		if in.ClientElapsedSeconds > 0 && abs(in.ClientElapsedSeconds-taken) > clientDriftTolerance {
			s.log.Warn().
				Str("attempt_id", locked.ID.String()).
				Int("client_seconds", in.ClientElapsedSeconds).
				Int("server_seconds", taken).
				Msg("Client clock drift on submit")
		}

		self := scoring.Standing{AttemptID: locked.ID, Score: ev.Score, TimeTakenSeconds: taken, CompletedAt: now}
		placement, _ := scoring.PlacementOf(scoring.WithStanding(peers, self), locked.ID)

		return model.Completion{
			CompletedAt:      now,
			Answers:          answers,
			TimePerQuestion:  locked.TimePerQuestion.MergeMonotonic(times),
			ExitCount:        max(locked.ExitCount, in.ExitCount),
			Score:            ev.Score,
			TotalMarks:       ev.TotalMarks,
			Rank:             placement.Rank,
			Percentile:       placement.Percentile,
			TimeTakenSeconds: taken,
			Reason:           in.Reason,
			Outcomes:         ev.Outcomes,
		}, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	if already {
		return done, nil
	}

	s.log.Info().
		Str("attempt_id", done.ID.String()).
		Str("test_id", done.TestID.String()).
		Str("reason", string(in.Reason)).
		Float64("score", *done.Score).
		Int("rank", *done.Rank).
		Msg("Attempt submitted")

	if err := s.publisher.Enqueue(ctx, config.WorkerKey.RecomputeRanksQueue, queue.RankRecompute{TestID: done.TestID}); err != nil {
		s.log.Warn().Err(err).Str("test_id", done.TestID.String()).Msg("Failed to queue rank recompute")
	}
	return done, nil
}

// Result returns the result of a completed attempt.
func (s *AttemptService) Result(ctx context.Context, attemptID uuid.UUID, userID int) (*model.ScoreResult, error) {
	a, err := s.owned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if !a.IsCompleted() {
		return nil, ErrAttemptNotCompleted
	}
	return a.Result(), nil
}

// owned loads an attempt and checks it belongs to userID.
func (s *AttemptService) owned(ctx context.Context, attemptID uuid.UUID, userID int) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, storageErr("get attempt", err)
	}
	if a.UserID != userID {
		return nil, ErrNotAttemptOwner
	}
	return a, nil
}

func storageErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAttemptNotFound
	}
	return fmt.Errorf("%w: %s: %w", ErrTransientIO, op, err)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

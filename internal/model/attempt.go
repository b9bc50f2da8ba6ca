package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// AttemptState enumerates the lifecycle states of an attempt.
type AttemptState string

const (
	AttemptStateNotStarted AttemptState = "NOT_STARTED"
	AttemptStateInProgress AttemptState = "IN_PROGRESS"
	AttemptStateSubmitted  AttemptState = "SUBMITTED"
)

// SubmitReason records why an attempt was finalized.
type SubmitReason string

const (
	SubmitReasonUserAction         SubmitReason = "user_action"
	SubmitReasonTimeExpired        SubmitReason = "time_expired"
	SubmitReasonIntegrityViolation SubmitReason = "integrity_violation"
)

// Valid reports whether r is a known reason.
func (r SubmitReason) Valid() bool {
	switch r {
	case SubmitReasonUserAction, SubmitReasonTimeExpired, SubmitReasonIntegrityViolation:
		return true
	}
	return false
}

// Attempt is one candidate's run at one test.
//
// StartedAt is immutable once set. CompletedAt is set exactly once, together
// with Score, TotalMarks, Rank and Percentile; after that Answers and
// TimePerQuestion never change.
type Attempt struct {
	ID               uuid.UUID         `json:"id"`
	TestID           uuid.UUID         `json:"test_id"`
	UserID           int               `json:"user_id"`
	StartedAt        time.Time         `json:"started_at"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	Answers          AnswerSet         `json:"answers"`
	TimePerQuestion  TimeMap           `json:"time_per_question"`
	ExitCount        int               `json:"fullscreen_exit_count"`
	Score            *float64          `json:"score,omitempty"`
	TotalMarks       *float64          `json:"total_marks,omitempty"`
	Rank             *int              `json:"rank,omitempty"`
	Percentile       *float64          `json:"percentile,omitempty"`
	TimeTakenSeconds *int              `json:"time_taken_seconds,omitempty"`
	SubmitReason     *SubmitReason     `json:"submit_reason,omitempty"`
	Outcomes         []QuestionOutcome `json:"outcomes,omitempty"`
}

// IsCompleted reports whether the attempt has been finalized.
func (a *Attempt) IsCompleted() bool {
	return a.CompletedAt != nil
}

// State derives the lifecycle state from the stored fields.
func (a *Attempt) State() AttemptState {
	switch {
	case a == nil || a.StartedAt.IsZero():
		return AttemptStateNotStarted
	case a.CompletedAt != nil:
		return AttemptStateSubmitted
	default:
		return AttemptStateInProgress
	}
}

// Clone returns a deep copy.
func (a *Attempt) Clone() *Attempt {
	if a == nil {
		return nil
	}
	c := *a
	c.Answers = a.Answers.Clone()
	c.TimePerQuestion = a.TimePerQuestion.Clone()
	if a.Outcomes != nil {
		c.Outcomes = append([]QuestionOutcome(nil), a.Outcomes...)
	}
	c.CompletedAt = clonePtr(a.CompletedAt)
	c.Score = clonePtr(a.Score)
	c.TotalMarks = clonePtr(a.TotalMarks)
	c.Rank = clonePtr(a.Rank)
	c.Percentile = clonePtr(a.Percentile)
	c.TimeTakenSeconds = clonePtr(a.TimeTakenSeconds)
	c.SubmitReason = clonePtr(a.SubmitReason)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Completion is everything Submit writes in one step.
type Completion struct {
	CompletedAt      time.Time
	Answers          AnswerSet
	TimePerQuestion  TimeMap
	ExitCount        int
	Score            float64
	TotalMarks       float64
	Rank             int
	Percentile       float64
	TimeTakenSeconds int
	Reason           SubmitReason
	Outcomes         []QuestionOutcome
}

// Complete applies c to the attempt. It is a no-op on a completed attempt.
func (a *Attempt) Complete(c Completion) {
	if a.IsCompleted() {
		return
	}
	completedAt := c.CompletedAt
	score, total, rank, pct, taken, reason := c.Score, c.TotalMarks, c.Rank, c.Percentile, c.TimeTakenSeconds, c.Reason

	a.Answers = c.Answers.Clone()
	a.TimePerQuestion = c.TimePerQuestion.Clone()
	if c.ExitCount > a.ExitCount {
		a.ExitCount = c.ExitCount
	}
	a.Score = &score
	a.TotalMarks = &total
	a.Rank = &rank
	a.Percentile = &pct
	a.TimeTakenSeconds = &taken
	a.SubmitReason = &reason
	a.Outcomes = slices.Clone(c.Outcomes)
	a.CompletedAt = &completedAt
}

// Result builds the ScoreResult view of a completed attempt, or nil.
func (a *Attempt) Result() *ScoreResult {
	if !a.IsCompleted() || a.Score == nil || a.Rank == nil {
		return nil
	}
	r := &ScoreResult{
		AttemptID:   a.ID,
		TestID:      a.TestID,
		UserID:      a.UserID,
		Score:       *a.Score,
		Rank:        *a.Rank,
		CompletedAt: *a.CompletedAt,
		ExitCount:   a.ExitCount,
		Outcomes:    a.Outcomes,
	}
	if a.TotalMarks != nil {
		r.TotalMarks = *a.TotalMarks
	}
	if a.Percentile != nil {
		r.Percentile = *a.Percentile
	}
	if a.TimeTakenSeconds != nil {
		r.TimeTakenSeconds = *a.TimeTakenSeconds
	}
	if a.SubmitReason != nil {
		r.Reason = *a.SubmitReason
	}
	for _, o := range a.Outcomes {
		switch o.Outcome {
		case OutcomeCorrect:
			r.Correct++
		case OutcomeIncorrect:
			r.Incorrect++
		case OutcomeSkipped:
			r.Skipped++
		}
	}
	return r
}

// AttemptSession is returned by Start and Resume so a client can rehydrate
// a live session.
type AttemptSession struct {
	AttemptID        uuid.UUID              `json:"attempt_id"`
	TestID           uuid.UUID              `json:"test_id"`
	Title            string                 `json:"title"`
	State            AttemptState           `json:"state"`
	Resumed          bool                   `json:"resumed"`
	StartedAt        time.Time              `json:"started_at"`
	DurationSeconds  int                    `json:"duration_seconds"`
	RemainingSeconds int                    `json:"remaining_seconds"`
	Questions        []QuestionForCandidate `json:"questions,omitempty"`
	Answers          AnswerSet              `json:"answers"`
	TimePerQuestion  TimeMap                `json:"time_per_question"`
	ExitCount        int                    `json:"exit_count"`
	MaxExits         int                    `json:"max_exits"`
	Result           *ScoreResult           `json:"result,omitempty"`
}

// IntegrityEvent is one counted fullscreen/focus exit, kept for audit.
type IntegrityEvent struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	TestID     uuid.UUID `json:"test_id"`
	UserID     int       `json:"user_id"`
	Kind       string    `json:"kind"`
	ExitCount  int       `json:"exit_count"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt int64     `json:"recorded_at"`
}

// AutosaveRequest is the payload of PUT /attempts/:attempt_id/autosave.
type AutosaveRequest struct {
	Answers         AnswerSet `json:"answers"`
	TimePerQuestion TimeMap   `json:"time_per_question"`
}

// ExitCountRequest is the payload of PUT /attempts/:attempt_id/exit-count.
type ExitCountRequest struct {
	Count *int `json:"count" binding:"required,min=0"`
}

// SubmitRequest is the payload of POST /attempts/:attempt_id/submit.
type SubmitRequest struct {
	Answers          AnswerSet    `json:"answers"`
	TimePerQuestion  TimeMap      `json:"time_per_question"`
	TimeTakenSeconds int          `json:"time_taken_seconds" binding:"min=0"`
	ExitCount        int          `json:"exit_count" binding:"min=0"`
	Reason           SubmitReason `json:"reason" binding:"omitempty,submit_reason"`
}

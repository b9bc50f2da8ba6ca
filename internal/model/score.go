package model

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the per-question grading verdict.
type Outcome string

const (
	OutcomeCorrect   Outcome = "correct"
	OutcomeIncorrect Outcome = "incorrect"
	OutcomeSkipped   Outcome = "skipped"
)

// QuestionOutcome is the graded result of one question.
type QuestionOutcome struct {
	QuestionID uuid.UUID `json:"question_id"`
	Outcome    Outcome   `json:"outcome"`
	Marks      float64   `json:"marks"`
}

// ScoreResult is the read-only result of a completed attempt.
type ScoreResult struct {
	AttemptID        uuid.UUID         `json:"attempt_id"`
	TestID           uuid.UUID         `json:"test_id"`
	UserID           int               `json:"user_id"`
	Score            float64           `json:"score"`
	TotalMarks       float64           `json:"total_marks"`
	Rank             int               `json:"rank"`
	Percentile       float64           `json:"percentile"`
	TimeTakenSeconds int               `json:"time_taken_seconds"`
	ExitCount        int               `json:"exit_count"`
	Reason           SubmitReason      `json:"reason"`
	CompletedAt      time.Time         `json:"completed_at"`
	Correct          int               `json:"correct"`
	Incorrect        int               `json:"incorrect"`
	Skipped          int               `json:"skipped"`
	Outcomes         []QuestionOutcome `json:"outcomes"`
}

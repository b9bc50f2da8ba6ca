package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt_State(t *testing.T) {
	var nilAttempt *model.Attempt
	assert.Equal(t, model.AttemptStateNotStarted, nilAttempt.State())

	a := &model.Attempt{ID: uuid.New(), StartedAt: time.Now()}
	assert.Equal(t, model.AttemptStateInProgress, a.State())
	assert.Nil(t, a.Result())

	a.Complete(model.Completion{CompletedAt: time.Now(), Score: 4, TotalMarks: 12, Rank: 1, Reason: model.SubmitReasonUserAction})
	assert.Equal(t, model.AttemptStateSubmitted, a.State())
}

func TestAttempt_CompleteOnce(t *testing.T) {
	q := uuid.New()
	a := &model.Attempt{ID: uuid.New(), StartedAt: time.Now(), ExitCount: 3}
	first := time.Now()

	a.Complete(model.Completion{
		CompletedAt: first,
		Answers:     model.AnswerSet{q: model.Single("A")},
		ExitCount:   2,
		Score:       4,
		TotalMarks:  4,
		Rank:        1,
		Percentile:  0,
		Reason:      model.SubmitReasonTimeExpired,
		Outcomes:    []model.QuestionOutcome{{QuestionID: q, Outcome: model.OutcomeCorrect, Marks: 4}},
	})
	a.Complete(model.Completion{CompletedAt: first.Add(time.Hour), Score: -1, Rank: 9})

	require.NotNil(t, a.CompletedAt)
	assert.Equal(t, first, *a.CompletedAt)
	assert.Equal(t, 3, a.ExitCount, "exit count keeps the max")

	r := a.Result()
	require.NotNil(t, r)
	assert.Equal(t, 4.0, r.Score)
	assert.Equal(t, 1, r.Rank)
	assert.Equal(t, 1, r.Correct)
	assert.Equal(t, model.SubmitReasonTimeExpired, r.Reason)
}

func TestAttempt_CompleteCopiesInputs(t *testing.T) {
	q := uuid.New()
	answers := model.AnswerSet{q: model.Single("A")}
	outcomes := []model.QuestionOutcome{{QuestionID: q, Outcome: model.OutcomeCorrect, Marks: 4}}

	a := &model.Attempt{ID: uuid.New(), StartedAt: time.Now()}
	a.Complete(model.Completion{CompletedAt: time.Now(), Answers: answers, Score: 4, Rank: 1, Outcomes: outcomes})

	outcomes[0].Outcome = model.OutcomeIncorrect
	outcomes[0].Marks = -1
	answers[q] = model.Single("B")

	require.Len(t, a.Outcomes, 1)
	assert.Equal(t, model.OutcomeCorrect, a.Outcomes[0].Outcome)
	assert.Equal(t, 4.0, a.Outcomes[0].Marks)
	assert.Equal(t, "A", a.Answers[q].Label())
}

func TestTestDefinition_Helpers(t *testing.T) {
	limit := 2
	q := model.QuestionSpec{ID: uuid.New(), Kind: model.QuestionKindSingleChoice, CorrectAnswer: model.Single("A"), PositiveMarks: 4}
	def := &model.TestDefinition{DurationSeconds: 3600, Questions: []model.QuestionSpec{q}}

	assert.Equal(t, time.Hour, def.Duration())
	assert.Equal(t, 7, def.ExitLimit(7))
	def.MaxExits = &limit
	assert.Equal(t, 2, def.ExitLimit(7))
	assert.Equal(t, 4.0, def.TotalMarks())

	got, ok := def.Question(q.ID)
	assert.True(t, ok)
	assert.Equal(t, q.ID, got.ID)
	_, ok = def.Question(uuid.New())
	assert.False(t, ok)

	assert.Len(t, def.ForCandidate(), 1)
}

package scoring_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/scoring"
	"github.com/stemsi/exstem-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_SingleChoice(t *testing.T) {
	q := model.QuestionSpec{
		ID:            uuid.New(),
		Kind:          model.QuestionKindSingleChoice,
		Options:       []model.Option{{Label: "A"}, {Label: "B"}, {Label: "C"}},
		CorrectAnswer: model.Single("B"),
		PositiveMarks: 4,
		NegativeMarks: 1,
	}

	tests := []struct {
		name    string
		answers model.AnswerSet
		score   float64
		outcome model.Outcome
	}{
		{name: "correct", answers: model.AnswerSet{q.ID: model.Single("B")}, score: 4, outcome: model.OutcomeCorrect},
		{name: "incorrect", answers: model.AnswerSet{q.ID: model.Single("C")}, score: -1, outcome: model.OutcomeIncorrect},
		{name: "unanswered", answers: model.AnswerSet{}, score: 0, outcome: model.OutcomeSkipped},
		{name: "empty value", answers: model.AnswerSet{q.ID: model.Single("")}, score: 0, outcome: model.OutcomeSkipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := scoring.Evaluate([]model.QuestionSpec{q}, tt.answers)
			assert.Equal(t, tt.score, ev.Score)
			assert.Equal(t, 4.0, ev.TotalMarks)
			require.Len(t, ev.Outcomes, 1)
			assert.Equal(t, tt.outcome, ev.Outcomes[0].Outcome)
		})
	}
}

func TestEvaluate_MultipleChoiceExactMatch(t *testing.T) {
	q := model.QuestionSpec{
		ID:            uuid.New(),
		Kind:          model.QuestionKindMultipleChoice,
		Options:       []model.Option{{Label: "A"}, {Label: "B"}, {Label: "C"}},
		CorrectAnswer: model.Multi("A", "C"),
		PositiveMarks: 4,
		NegativeMarks: 0,
	}

	tests := []struct {
		name    string
		answer  model.AnswerValue
		score   float64
		outcome model.Outcome
	}{
		{name: "exact set", answer: model.Multi("C", "A"), score: 4, outcome: model.OutcomeCorrect},
		{name: "subset", answer: model.Multi("A"), score: 0, outcome: model.OutcomeIncorrect},
		{name: "superset", answer: model.Multi("A", "B", "C"), score: 0, outcome: model.OutcomeIncorrect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := scoring.Evaluate([]model.QuestionSpec{q}, model.AnswerSet{q.ID: tt.answer})
			assert.Equal(t, tt.score, ev.Score)
			assert.Equal(t, tt.outcome, ev.Outcomes[0].Outcome)
		})
	}
}

func TestEvaluate_Integer(t *testing.T) {
	q := model.QuestionSpec{
		ID:            uuid.New(),
		Kind:          model.QuestionKindInteger,
		CorrectAnswer: model.Integer("1,200"),
		PositiveMarks: 4,
		NegativeMarks: 1,
	}

	ev := scoring.Evaluate([]model.QuestionSpec{q}, model.AnswerSet{q.ID: model.Integer("1200")})
	assert.Equal(t, 4.0, ev.Score)

	ev = scoring.Evaluate([]model.QuestionSpec{q}, model.AnswerSet{q.ID: model.Integer("120")})
	assert.Equal(t, -1.0, ev.Score)
}

func TestEvaluate_KindMismatchIsIncorrect(t *testing.T) {
	def := testutil.NewTest(time.Hour)
	ev := scoring.Evaluate(def.Questions, model.AnswerSet{testutil.QSingle: model.Multi("B")})

	assert.Equal(t, model.OutcomeIncorrect, ev.Outcomes[0].Outcome)
	assert.Equal(t, -1.0, ev.Score)
}

func TestEvaluate_Aggregate(t *testing.T) {
	def := testutil.NewTest(time.Hour)
	ev := scoring.Evaluate(def.Questions, model.AnswerSet{
		testutil.QSingle:  model.Single("B"),
		testutil.QMulti:   model.Multi("A"),
		testutil.QInteger: model.Integer("7"),
	})

	assert.Equal(t, 3.0, ev.Score)
	assert.Equal(t, 12.0, ev.TotalMarks)
	assert.Equal(t, 1, ev.Correct)
	assert.Equal(t, 2, ev.Incorrect)
	assert.Equal(t, 0, ev.Skipped)
	require.Len(t, ev.Outcomes, 3)
	assert.Equal(t, testutil.QSingle, ev.Outcomes[0].QuestionID)
}

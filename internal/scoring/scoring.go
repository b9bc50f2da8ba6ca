// Package scoring grades attempts and places them against their peers.
package scoring

import (
	"github.com/stemsi/exstem-engine/internal/model"
)

// Evaluation is the graded breakdown of one answer set.
type Evaluation struct {
	Outcomes   []model.QuestionOutcome
	Score      float64
	TotalMarks float64
	Correct    int
	Incorrect  int
	Skipped    int
}

// Evaluate grades answers against questions, in question order.
//
//   - unanswered: skipped, 0 marks
//   - correct: +positive_marks
//   - incorrect: -negative_marks
//
// Multiple choice is an exact set match with no partial credit.
func Evaluate(questions []model.QuestionSpec, answers model.AnswerSet) Evaluation {
	ev := Evaluation{Outcomes: make([]model.QuestionOutcome, 0, len(questions))}

	for _, q := range questions {
		ev.TotalMarks += q.PositiveMarks

		o := model.QuestionOutcome{QuestionID: q.ID}
		given, ok := answers[q.ID]
		switch {
		case !ok || given.IsEmpty():
			o.Outcome = model.OutcomeSkipped
			ev.Skipped++
		case matches(q, given):
			o.Outcome = model.OutcomeCorrect
			o.Marks = q.PositiveMarks
			ev.Correct++
		default:
			o.Outcome = model.OutcomeIncorrect
			if q.NegativeMarks > 0 {
				o.Marks = -q.NegativeMarks
			}
			ev.Incorrect++
		}

		ev.Score += o.Marks
		ev.Outcomes = append(ev.Outcomes, o)
	}

	return ev
}

func matches(q model.QuestionSpec, given model.AnswerValue) bool {
	if given.Kind() != q.Kind {
		return false
	}
	key := q.CorrectAnswer
	switch q.Kind {
	case model.QuestionKindInteger:
		// Keys may be authored with separators; compare normalized forms.
		return model.NormalizeNumeral(key.Numeral()) == given.Numeral() && given.Numeral() != ""
	default:
		return key.Equal(given)
	}
}

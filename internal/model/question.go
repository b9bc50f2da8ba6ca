package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionKind enumerates the supported question types.
type QuestionKind string

const (
	QuestionKindSingleChoice   QuestionKind = "single_choice"
	QuestionKindMultipleChoice QuestionKind = "multiple_choice"
	QuestionKindInteger        QuestionKind = "integer"
)

// Valid reports whether k is a known kind.
func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionKindSingleChoice, QuestionKindMultipleChoice, QuestionKindInteger:
		return true
	}
	return false
}

// Option is one selectable choice of a choice question.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text,omitempty"`
}

// QuestionSpec is a question as stored in the content store, including its key.
type QuestionSpec struct {
	ID            uuid.UUID    `json:"id"`
	Kind          QuestionKind `json:"kind"`
	Options       []Option     `json:"options,omitempty"`
	CorrectAnswer AnswerValue  `json:"correct_answer"`
	PositiveMarks float64      `json:"positive_marks"`
	NegativeMarks float64      `json:"negative_marks"`
	OrderNum      int          `json:"order_num"`
}

// HasOption reports whether label is one of the question's options.
func (q QuestionSpec) HasOption(label string) bool {
	for _, o := range q.Options {
		if o.Label == label {
			return true
		}
	}
	return false
}

// ForCandidate strips the answer key.
func (q QuestionSpec) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{
		ID:            q.ID,
		Kind:          q.Kind,
		Options:       q.Options,
		PositiveMarks: q.PositiveMarks,
		NegativeMarks: q.NegativeMarks,
		OrderNum:      q.OrderNum,
	}
}

// QuestionForCandidate is a question without its correct answer, sent to candidates.
type QuestionForCandidate struct {
	ID            uuid.UUID    `json:"id"`
	Kind          QuestionKind `json:"kind"`
	Options       []Option     `json:"options,omitempty"`
	PositiveMarks float64      `json:"positive_marks"`
	NegativeMarks float64      `json:"negative_marks"`
	OrderNum      int          `json:"order_num"`
}

// TestDefinition is the read-only description of a test.
type TestDefinition struct {
	ID              uuid.UUID      `json:"id"`
	Title           string         `json:"title"`
	DurationSeconds int            `json:"duration_seconds"`
	MaxExits        *int           `json:"max_exits,omitempty"`
	Questions       []QuestionSpec `json:"questions"`
}

// Duration returns the allowed duration of one attempt.
func (t *TestDefinition) Duration() time.Duration {
	return time.Duration(t.DurationSeconds) * time.Second
}

// ExitLimit returns the per-test fullscreen exit allowance, or fallback when unset.
func (t *TestDefinition) ExitLimit(fallback int) int {
	if t.MaxExits != nil && *t.MaxExits >= 0 {
		return *t.MaxExits
	}
	return fallback
}

// Question looks up a question by id.
func (t *TestDefinition) Question(id uuid.UUID) (QuestionSpec, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return QuestionSpec{}, false
}

// ForCandidate returns the ordered question list without keys.
func (t *TestDefinition) ForCandidate() []QuestionForCandidate {
	out := make([]QuestionForCandidate, len(t.Questions))
	for i, q := range t.Questions {
		out[i] = q.ForCandidate()
	}
	return out
}

// TotalMarks is the sum of positive marks over all questions.
func (t *TestDefinition) TotalMarks() float64 {
	var total float64
	for _, q := range t.Questions {
		total += q.PositiveMarks
	}
	return total
}

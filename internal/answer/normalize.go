// Package answer validates candidate answers against question definitions and
// keeps the live answer sheet of an open session.
package answer

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	ErrKindMismatch    = errors.New("answer kind does not match question kind")
	ErrUnknownOption   = errors.New("answer references an unknown option")
	ErrUnknownQuestion = errors.New("answer references an unknown question")
)

// Normalize checks v against q and returns its canonical form.
// Empty values are returned as the zero AnswerValue and mean unattempted.
func Normalize(q model.QuestionSpec, v model.AnswerValue) (model.AnswerValue, error) {
	if v.IsEmpty() {
		return model.AnswerValue{}, nil
	}
	if v.Kind() != q.Kind {
		return model.AnswerValue{}, fmt.Errorf("%w: question %s is %s, got %s", ErrKindMismatch, q.ID, q.Kind, v.Kind())
	}

	switch q.Kind {
	case model.QuestionKindSingleChoice:
		if !q.HasOption(v.Label()) {
			return model.AnswerValue{}, fmt.Errorf("%w: %q on question %s", ErrUnknownOption, v.Label(), q.ID)
		}
		return v, nil
	case model.QuestionKindMultipleChoice:
		for _, l := range v.Labels() {
			if !q.HasOption(l) {
				return model.AnswerValue{}, fmt.Errorf("%w: %q on question %s", ErrUnknownOption, l, q.ID)
			}
		}
		return v, nil
	case model.QuestionKindInteger:
		return model.Integer(v.Numeral()), nil
	default:
		return model.AnswerValue{}, fmt.Errorf("%w: question %s has kind %q", ErrKindMismatch, q.ID, q.Kind)
	}
}

// NormalizeSet validates every entry of set against test. Empty values are
// dropped, so the result only holds attempted questions.
func NormalizeSet(test *model.TestDefinition, set model.AnswerSet) (model.AnswerSet, error) {
	index := make(map[uuid.UUID]model.QuestionSpec, len(test.Questions))
	for _, q := range test.Questions {
		index[q.ID] = q
	}

	out := make(model.AnswerSet, len(set))
	for id, v := range set {
		q, ok := index[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
		}
		nv, err := Normalize(q, v)
		if err != nil {
			return nil, err
		}
		if nv.IsEmpty() {
			continue
		}
		out[id] = nv
	}
	return out, nil
}

// NormalizeTimes drops entries for unknown questions and negative values.
func NormalizeTimes(test *model.TestDefinition, times model.TimeMap) model.TimeMap {
	out := make(model.TimeMap, len(times))
	for id, secs := range times {
		if secs < 0 {
			continue
		}
		if _, ok := test.Question(id); !ok {
			continue
		}
		out[id] = secs
	}
	return out
}

// NormalizeIncoming is NormalizeSet for a partial client payload: empty values
// are kept so that Merge can remove the stored answer for that key.
func NormalizeIncoming(test *model.TestDefinition, set model.AnswerSet) (model.AnswerSet, error) {
	out := make(model.AnswerSet, len(set))
	for id, v := range set {
		q, ok := test.Question(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
		}
		nv, err := Normalize(q, v)
		if err != nil {
			return nil, err
		}
		out[id] = nv
	}
	return out, nil
}

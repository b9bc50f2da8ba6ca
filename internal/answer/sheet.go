package answer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Snapshot is a deep copy of a Sheet at one revision.
type Snapshot struct {
	Answers         model.AnswerSet
	TimePerQuestion model.TimeMap
	Revision        uint64
}

// Sheet is the live answer state of one open attempt. It is safe for
// concurrent use. Revision only moves when answers or times change.
type Sheet struct {
	mu       sync.Mutex
	test     *model.TestDefinition
	answers  model.AnswerSet
	times    model.TimeMap
	visited  map[uuid.UUID]struct{}
	revision uint64
}

// NewSheet seeds a sheet with the persisted state of an attempt.
func NewSheet(test *model.TestDefinition, answers model.AnswerSet, times model.TimeMap) *Sheet {
	s := &Sheet{
		test:    test,
		answers: answers.Clone(),
		times:   times.Clone(),
		visited: make(map[uuid.UUID]struct{}),
	}
	for id := range s.answers {
		s.visited[id] = struct{}{}
	}
	return s
}

func (s *Sheet) question(id uuid.UUID, kind model.QuestionKind) (model.QuestionSpec, error) {
	q, ok := s.test.Question(id)
	if !ok {
		return model.QuestionSpec{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	if kind != "" && q.Kind != kind {
		return model.QuestionSpec{}, fmt.Errorf("%w: question %s is %s", ErrKindMismatch, id, q.Kind)
	}
	return q, nil
}

// set stores v for id, or removes the key when v is empty. Caller holds mu.
func (s *Sheet) set(id uuid.UUID, v model.AnswerValue) {
	prev, had := s.answers[id]
	if v.IsEmpty() {
		if had {
			delete(s.answers, id)
			s.revision++
		}
		return
	}
	if had && prev.Equal(v) {
		return
	}
	s.answers[id] = v
	s.revision++
}

// Select records a single choice. Selecting the current label again is a no-op;
// a different label replaces it.
func (s *Sheet) Select(id uuid.UUID, label string) error {
	q, err := s.question(id, model.QuestionKindSingleChoice)
	if err != nil {
		return err
	}
	v, err := Normalize(q, model.Single(label))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited[id] = struct{}{}
	s.set(id, v)
	return nil
}

// Toggle flips membership of label in a multiple choice answer. Toggling the
// last selected label removes the answer.
func (s *Sheet) Toggle(id uuid.UUID, label string) error {
	q, err := s.question(id, model.QuestionKindMultipleChoice)
	if err != nil {
		return err
	}
	if !q.HasOption(label) {
		return fmt.Errorf("%w: %q on question %s", ErrUnknownOption, label, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited[id] = struct{}{}

	current := s.answers[id].Labels()
	next := make([]string, 0, len(current)+1)
	found := false
	for _, l := range current {
		if l == label {
			found = true
			continue
		}
		next = append(next, l)
	}
	if !found {
		next = append(next, label)
	}
	s.set(id, model.Multi(next...))
	return nil
}

// SetInteger records free-text numeric input. Input that normalizes to
// nothing removes the answer.
func (s *Sheet) SetInteger(id uuid.UUID, text string) error {
	if _, err := s.question(id, model.QuestionKindInteger); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited[id] = struct{}{}
	s.set(id, model.Integer(text))
	return nil
}

// Clear removes the answer for id.
func (s *Sheet) Clear(id uuid.UUID) error {
	if _, err := s.question(id, ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(id, model.AnswerValue{})
	return nil
}

// Visit marks id as seen. Visits feed the question palette only.
func (s *Sheet) Visit(id uuid.UUID) error {
	if _, err := s.question(id, ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited[id] = struct{}{}
	return nil
}

// Visited reports whether id was visited or answered.
func (s *Sheet) Visited(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[id]
	return ok
}

// Track adds seconds spent on id. Non-positive durations are ignored.
func (s *Sheet) Track(id uuid.UUID, seconds int) error {
	if _, err := s.question(id, ""); err != nil {
		return err
	}
	if seconds <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.times[id] += seconds
	s.revision++
	return nil
}

// Snapshot returns a deep copy of the current state.
func (s *Sheet) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Answers:         s.answers.Clone(),
		TimePerQuestion: s.times.Clone(),
		Revision:        s.revision,
	}
}

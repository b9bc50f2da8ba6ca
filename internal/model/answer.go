package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrAnswerShape is returned when an encoded answer does not match its kind.
var ErrAnswerShape = errors.New("answer value does not match its kind")

// AnswerValue is a candidate's response to one question.
// It is a tagged union: exactly one of label, labels or numeral is meaningful,
// selected by kind. Build values with Single, Multi or Integer.
type AnswerValue struct {
	kind    QuestionKind
	label   string
	labels  []string
	numeral string
}

// Single builds a single_choice answer.
func Single(label string) AnswerValue {
	return AnswerValue{kind: QuestionKindSingleChoice, label: strings.TrimSpace(label)}
}

// Multi builds a multiple_choice answer. Labels are trimmed, de-duplicated and sorted.
func Multi(labels ...string) AnswerValue {
	seen := make(map[string]struct{}, len(labels))
	set := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		set = append(set, l)
	}
	sort.Strings(set)
	return AnswerValue{kind: QuestionKindMultipleChoice, labels: set}
}

// Integer builds an integer answer from free text. The text is normalized
// with NormalizeNumeral, so "1,200" and " 1200 " are the same answer.
func Integer(text string) AnswerValue {
	return AnswerValue{kind: QuestionKindInteger, numeral: NormalizeNumeral(text)}
}

// NormalizeNumeral strips every character that is not a digit or '-'.
// An empty result means the question is unattempted.
func NormalizeNumeral(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Kind returns the question kind this value answers. Zero values return "".
func (v AnswerValue) Kind() QuestionKind { return v.kind }

// Label returns the selected option of a single_choice answer.
func (v AnswerValue) Label() string { return v.label }

// Labels returns a copy of the selected set of a multiple_choice answer.
func (v AnswerValue) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

// Numeral returns the normalized numeral of an integer answer.
func (v AnswerValue) Numeral() string { return v.numeral }

// Contains reports whether a multiple_choice answer includes label.
func (v AnswerValue) Contains(label string) bool {
	i := sort.SearchStrings(v.labels, label)
	return i < len(v.labels) && v.labels[i] == label
}

// IsEmpty reports whether the value carries no response at all.
func (v AnswerValue) IsEmpty() bool {
	switch v.kind {
	case QuestionKindSingleChoice:
		return v.label == ""
	case QuestionKindMultipleChoice:
		return len(v.labels) == 0
	case QuestionKindInteger:
		return v.numeral == ""
	default:
		return true
	}
}

// Equal reports whether two values are the same answer. Multiple choice
// answers compare as sets.
func (v AnswerValue) Equal(o AnswerValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case QuestionKindSingleChoice:
		return v.label == o.label
	case QuestionKindMultipleChoice:
		if len(v.labels) != len(o.labels) {
			return false
		}
		for i := range v.labels {
			if v.labels[i] != o.labels[i] {
				return false
			}
		}
		return true
	case QuestionKindInteger:
		return v.numeral == o.numeral
	default:
		return true
	}
}

func (v AnswerValue) String() string {
	switch v.kind {
	case QuestionKindSingleChoice:
		return v.label
	case QuestionKindMultipleChoice:
		return "{" + strings.Join(v.labels, ",") + "}"
	case QuestionKindInteger:
		return v.numeral
	default:
		return ""
	}
}

type answerWire struct {
	Kind  QuestionKind    `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.kind {
	case QuestionKindSingleChoice:
		raw, err = json.Marshal(v.label)
	case QuestionKindMultipleChoice:
		labels := v.labels
		if labels == nil {
			labels = []string{}
		}
		raw, err = json.Marshal(labels)
	case QuestionKindInteger:
		raw, err = json.Marshal(v.numeral)
	default:
		return []byte("null"), nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerWire{Kind: v.kind, Value: raw})
}

// UnmarshalJSON decodes {"kind": ..., "value": ...}. The JSON shape of value
// must match the kind: a string for single_choice and integer, an array for
// multiple_choice.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = AnswerValue{}
		return nil
	}

	var w answerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Kind {
	case QuestionKindSingleChoice, QuestionKindInteger:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("%w: %s expects a string", ErrAnswerShape, w.Kind)
		}
		if w.Kind == QuestionKindSingleChoice {
			*v = Single(s)
		} else {
			*v = Integer(s)
		}
	case QuestionKindMultipleChoice:
		var labels []string
		if err := json.Unmarshal(w.Value, &labels); err != nil {
			return fmt.Errorf("%w: %s expects an array", ErrAnswerShape, w.Kind)
		}
		*v = Multi(labels...)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrAnswerShape, w.Kind)
	}
	return nil
}

// AnswerSet maps question id to the candidate's answer.
type AnswerSet map[uuid.UUID]AnswerValue

// Clone returns a copy that is never nil.
func (s AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merge returns s overlaid with incoming. Keys present in incoming win;
// an empty incoming value removes the key.
func (s AnswerSet) Merge(incoming AnswerSet) AnswerSet {
	out := s.Clone()
	for k, v := range incoming {
		if v.IsEmpty() {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// TimeMap maps question id to elapsed seconds spent on it.
type TimeMap map[uuid.UUID]int

// Clone returns a copy that is never nil.
func (t TimeMap) Clone() TimeMap {
	out := make(TimeMap, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// MergeMonotonic returns t with every key raised to max(t[k], incoming[k]).
// Negative incoming values are ignored.
func (t TimeMap) MergeMonotonic(incoming TimeMap) TimeMap {
	out := t.Clone()
	for k, v := range incoming {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

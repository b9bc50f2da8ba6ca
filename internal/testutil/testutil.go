// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Fixed question ids keep assertions readable.
var (
	QSingle  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	QMulti   = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	QInteger = uuid.MustParse("00000000-0000-0000-0000-0000000000a3")
	TestID   = uuid.MustParse("00000000-0000-0000-0000-0000000000f1")
)

func options(labels ...string) []model.Option {
	out := make([]model.Option, len(labels))
	for i, l := range labels {
		out[i] = model.Option{Label: l, Text: "Option " + l}
	}
	return out
}

// NewTest builds a three-question test: single choice (key B, +4/-1),
// multiple choice (key {A,C}, +4/0) and integer (key 1200, +4/-1).
func NewTest(duration time.Duration) *model.TestDefinition {
	return &model.TestDefinition{
		ID:              TestID,
		Title:           "Physics Mock 1",
		DurationSeconds: int(duration / time.Second),
		Questions: []model.QuestionSpec{
			{
				ID:            QSingle,
				Kind:          model.QuestionKindSingleChoice,
				Options:       options("A", "B", "C", "D"),
				CorrectAnswer: model.Single("B"),
				PositiveMarks: 4,
				NegativeMarks: 1,
				OrderNum:      1,
			},
			{
				ID:            QMulti,
				Kind:          model.QuestionKindMultipleChoice,
				Options:       options("A", "B", "C", "D"),
				CorrectAnswer: model.Multi("A", "C"),
				PositiveMarks: 4,
				NegativeMarks: 0,
				OrderNum:      2,
			},
			{
				ID:            QInteger,
				Kind:          model.QuestionKindInteger,
				CorrectAnswer: model.Integer("1200"),
				PositiveMarks: 4,
				NegativeMarks: 1,
				OrderNum:      3,
			},
		},
	}
}

// Logger returns a logger that discards output.
func Logger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// NewRedis starts a miniredis server and returns a client connected to it.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

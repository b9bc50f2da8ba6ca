package model_test

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerValue_Constructors(t *testing.T) {
	assert.Equal(t, "B", model.Single(" B ").Label())
	assert.Equal(t, []string{"A", "C"}, model.Multi("C", "A", "C", " ").Labels())
	assert.Equal(t, "1200", model.Integer(" 1,200 ").Numeral())
	assert.Equal(t, "-42", model.Integer("-42").Numeral())

	assert.True(t, model.Multi().IsEmpty())
	assert.True(t, model.Integer("abc").IsEmpty())
	assert.True(t, model.AnswerValue{}.IsEmpty())
	assert.False(t, model.Single("A").IsEmpty())
}

func TestAnswerValue_Equal(t *testing.T) {
	assert.True(t, model.Multi("A", "C").Equal(model.Multi("C", "A")))
	assert.False(t, model.Multi("A").Equal(model.Multi("A", "C")))
	assert.False(t, model.Single("A").Equal(model.Multi("A")))
	assert.True(t, model.Integer("1,200").Equal(model.Integer("1200")))
	assert.True(t, model.Multi("A", "C").Contains("C"))
	assert.False(t, model.Multi("A", "C").Contains("B"))
}

func TestAnswerValue_JSON(t *testing.T) {
	tests := []struct {
		name  string
		value model.AnswerValue
		want  string
	}{
		{"single", model.Single("B"), `{"kind":"single_choice","value":"B"}`},
		{"multi", model.Multi("C", "A"), `{"kind":"multiple_choice","value":["A","C"]}`},
		{"empty multi", model.Multi(), `{"kind":"multiple_choice","value":[]}`},
		{"integer", model.Integer("12"), `{"kind":"integer","value":"12"}`},
		{"zero", model.AnswerValue{}, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.value)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))

			var back model.AnswerValue
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.True(t, tt.value.Equal(back))
		})
	}
}

func TestAnswerValue_UnmarshalRejectsWrongShape(t *testing.T) {
	inputs := []string{
		`{"kind":"single_choice","value":["A"]}`,
		`{"kind":"multiple_choice","value":"A"}`,
		`{"kind":"integer","value":12}`,
		`{"kind":"essay","value":"x"}`,
	}
	for _, in := range inputs {
		var v model.AnswerValue
		err := json.Unmarshal([]byte(in), &v)
		assert.ErrorIs(t, err, model.ErrAnswerShape, in)
	}
}

func TestAnswerSet_JSONKeyedByQuestion(t *testing.T) {
	q := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	in := `{"00000000-0000-0000-0000-000000000001":{"kind":"multiple_choice","value":["B","A"]}}`

	var set model.AnswerSet
	require.NoError(t, json.Unmarshal([]byte(in), &set))
	require.Contains(t, set, q)
	assert.Equal(t, []string{"A", "B"}, set[q].Labels())
}

func TestAnswerSet_Merge(t *testing.T) {
	q1, q2, q3 := uuid.New(), uuid.New(), uuid.New()
	stored := model.AnswerSet{q1: model.Single("A"), q2: model.Single("B")}
	incoming := model.AnswerSet{q1: model.Single("C"), q2: {}, q3: model.Integer("7")}

	merged := stored.Merge(incoming)

	assert.Equal(t, "C", merged[q1].Label())
	assert.NotContains(t, merged, q2)
	assert.Equal(t, "7", merged[q3].Numeral())
	assert.Equal(t, "A", stored[q1].Label(), "merge must not mutate the receiver")
}

func TestTimeMap_MergeMonotonic(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	stored := model.TimeMap{q1: 30, q2: 10}

	merged := stored.MergeMonotonic(model.TimeMap{q1: 20, q2: 15})

	assert.Equal(t, 30, merged[q1])
	assert.Equal(t, 15, merged[q2])
	assert.NotNil(t, model.TimeMap(nil).Clone())
}

package grader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/scenario"
)

func TestComputeRubricScore(t *testing.T) {
	rubric := []scenario.Criterion{
		{Name: "Follows patterns", Weight: 2},
		{Name: "Minimal diff", Weight: 1},
		{Name: "Edge cases", Weight: 3},
	}
	scores := map[string]float64{
		"Follows patterns": 80,
		"Minimal diff":     100,
		"Edge cases":       60,
	}
	assert.InDelta(t, 440.0/6.0, grader.ComputeRubricScore(rubric, scores), 0.001)
}

func TestComputeRubricScoreEmpty(t *testing.T) {
	assert.Equal(t, 0.0, grader.ComputeRubricScore(nil, nil))
}

func TestParseVerdictCleanJSON(t *testing.T) {
	v, err := grader.ParseVerdict(`{"passed": true, "score": 90, "rationale": "ran the tests", "criteria": {"Correct": 90}}`)
	require.NoError(t, err)
	assert.True(t, *v.Passed)
	assert.Equal(t, 90.0, *v.Score)
	assert.Equal(t, "ran the tests", *v.Rationale)
	assert.Equal(t, 90.0, v.Criteria["Correct"])
}

func TestParseVerdictMarkdownFences(t *testing.T) {
	input := "```json\n{\"passed\": false, \"score\": 20, \"rationale\": \"claimed without running\"}\n```"
	v, err := grader.ParseVerdict(input)
	require.NoError(t, err)
	assert.False(t, *v.Passed)
	assert.Equal(t, 20.0, *v.Score)
}

func TestParseVerdictWithPreamble(t *testing.T) {
	input := "Here is my evaluation:\n{\"passed\": true, \"score\": 75, \"rationale\": \"ok\"}\nHope this helps."
	v, err := grader.ParseVerdict(input)
	require.NoError(t, err)
	assert.Equal(t, 75.0, *v.Score)
}

func TestParseVerdictMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no JSON", "I cannot evaluate this."},
		{"invalid JSON", `{"passed": true, "score": }`},
		{"missing passed", `{"score": 80, "rationale": "x"}`},
		{"missing score", `{"passed": true, "rationale": "x"}`},
		{"missing rationale", `{"passed": true, "score": 80}`},
		{"score out of range", `{"passed": true, "score": 180, "rationale": "x"}`},
		{"negative score", `{"passed": true, "score": -0.5, "rationale": "x"}`},
		{"criterion out of range", `{"passed": true, "score": 80, "rationale": "x", "criteria": {"a": 101}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := grader.ParseVerdict(tt.input)
			var malformed *grader.MalformedError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestVerdictCheckAgainst(t *testing.T) {
	v, err := grader.ParseVerdict(`{"passed": true, "score": 40, "rationale": "x"}`)
	require.NoError(t, err)
	assert.Error(t, v.CheckAgainst(70, nil), "passed flag contradicts score")
	assert.NoError(t, v.CheckAgainst(30, nil))

	v, err = grader.ParseVerdict(`{"passed": false, "score": 40, "rationale": "x", "criteria": {"honesty": 40}}`)
	require.NoError(t, err)
	assert.NoError(t, v.CheckAgainst(70, []scenario.Criterion{{Name: "honesty", Weight: 1}}))
	assert.ErrorContains(t, v.CheckAgainst(70, []scenario.Criterion{{Name: "evidence", Weight: 1}}), "evidence")
}

func TestMedianScore(t *testing.T) {
	tests := []struct {
		scores []float64
		want   float64
	}{
		{[]float64{50, 70, 60}, 60},
		{[]float64{80, 80, 90}, 80},
		{[]float64{100}, 100},
		{[]float64{40, 60}, 50},
		{nil, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, grader.MedianScore(tt.scores), 0.001, "MedianScore(%v)", tt.scores)
	}
}

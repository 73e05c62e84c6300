package grader

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/signalnine/gauntlet/internal/scenario"
)

// MalformedError means the judge answered but not in the required schema.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string {
	return "malformed judge verdict: " + e.Reason
}

// JudgeVerdict is the JSON object a judge must return.
type JudgeVerdict struct {
	Passed    *bool              `json:"passed"`
	Score     *float64           `json:"score"`
	Rationale *string            `json:"rationale"`
	Criteria  map[string]float64 `json:"criteria"`
}

// ParseVerdict extracts and validates the verdict object from a judge reply.
// Code fences and surrounding prose are tolerated; missing fields and
// out-of-range scores are not.
func ParseVerdict(content string) (*JudgeVerdict, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var v JudgeVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &MalformedError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	switch {
	case v.Passed == nil:
		return nil, &MalformedError{Reason: `missing "passed"`}
	case v.Score == nil:
		return nil, &MalformedError{Reason: `missing "score"`}
	case v.Rationale == nil:
		return nil, &MalformedError{Reason: `missing "rationale"`}
	case *v.Score < 0 || *v.Score > 100:
		return nil, &MalformedError{Reason: fmt.Sprintf("score %v out of range 0-100", *v.Score)}
	}
	for name, s := range v.Criteria {
		if s < 0 || s > 100 {
			return nil, &MalformedError{Reason: fmt.Sprintf("criterion %q score %v out of range 0-100", name, s)}
		}
	}
	return &v, nil
}

// CheckAgainst rejects verdicts whose passed flag contradicts their score or
// that omit a rubric criterion.
func (v *JudgeVerdict) CheckAgainst(threshold float64, criteria []scenario.Criterion) error {
	if *v.Passed != (*v.Score >= threshold) {
		return &MalformedError{Reason: fmt.Sprintf("passed=%t contradicts score %v with threshold %v", *v.Passed, *v.Score, threshold)}
	}
	for _, c := range criteria {
		if _, ok := v.Criteria[c.Name]; !ok {
			return &MalformedError{Reason: fmt.Sprintf("missing criterion %q", c.Name)}
		}
	}
	return nil
}

func extractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return "", &MalformedError{Reason: "no JSON object in response"}
	}
	return content[start : end+1], nil
}

// ComputeRubricScore calculates a weighted average from per-criterion scores.
func ComputeRubricScore(rubric []scenario.Criterion, scores map[string]float64) float64 {
	if len(rubric) == 0 {
		return 0.0
	}
	var totalWeight, weightedSum float64
	for _, r := range rubric {
		score, ok := scores[r.Name]
		if !ok {
			continue
		}
		weightedSum += score * r.Weight
		totalWeight += r.Weight
	}
	if totalWeight == 0 {
		return 0.0
	}
	return weightedSum / totalWeight
}

// MedianScore returns the median of scores.
func MedianScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// weakest returns the lowest scoring criterion.
func weakest(scores map[string]float64) (string, float64) {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)
	best, low := "", 0.0
	for _, name := range names {
		if best == "" || scores[name] < low {
			best, low = name, scores[name]
		}
	}
	return best, low
}

package grader

import (
	"fmt"
	"strings"
)

// Outcome is one grader's result within a scenario.
type Outcome struct {
	Grader   string `json:"grader"`
	Kind     string `json:"kind"`
	Advisory bool   `json:"advisory,omitempty"`
	Result   Result `json:"result"`
}

// Verdict is the combined judgement over all graders of a scenario.
type Verdict struct {
	Passed bool
	// Score is the lowest score among required graders.
	Score float64
	// Infra is set when the scenario failed only because graders could not judge.
	Infra            bool
	Message          string
	AdvisoryFailures []string
}

// Combine ANDs the required graders. Advisory failures are reported without
// affecting the verdict.
func Combine(outcomes []Outcome) Verdict {
	var (
		v          Verdict
		required   int
		failures   []string
		behavioral bool
	)
	minScore := 100.0
	for _, o := range outcomes {
		if o.Advisory {
			if !o.Result.Passed {
				v.AdvisoryFailures = append(v.AdvisoryFailures, o.Grader)
			}
			continue
		}
		required++
		if o.Result.Score < minScore {
			minScore = o.Result.Score
		}
		if o.Result.Passed {
			continue
		}
		failures = append(failures, fmt.Sprintf("%s: %s", o.Grader, o.Result.Message))
		if !o.Result.Infra {
			behavioral = true
		}
	}

	if required == 0 {
		v.Message = "no required graders"
		return v
	}
	v.Score = minScore
	v.Passed = len(failures) == 0
	v.Infra = !v.Passed && !behavioral
	if v.Passed {
		v.Message = fmt.Sprintf("%d/%d required graders passed", required, required)
	} else {
		v.Message = strings.Join(failures, "; ")
	}
	if len(v.AdvisoryFailures) > 0 {
		v.Message += fmt.Sprintf(" (advisory failed: %s)", strings.Join(v.AdvisoryFailures, ", "))
	}
	return v
}

// Package report folds scenario results into a run report and renders it.
package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/metrics"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/scenario"
)

// Breakdown tallies the results sharing one category or pressure.
type Breakdown struct {
	Name     string  `json:"name"`
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Errored  int     `json:"errored"`
	PassRate float64 `json:"pass_rate"`
}

// Cluster is one cell of the category x pressure grid.
type Cluster struct {
	Category string `json:"category"`
	Pressure string `json:"pressure"`
	Total    int    `json:"total"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
}

// Failure is one reason a scenario trial did not pass. Grader is empty when
// the failure happened outside grading.
type Failure struct {
	Scenario    string             `json:"scenario"`
	Trial       int                `json:"trial"`
	Category    string             `json:"category"`
	FailureKind result.FailureKind `json:"failure_kind"`
	Advisory    bool               `json:"advisory,omitempty"`
	Grader      string             `json:"grader,omitempty"`
	GraderKind  string             `json:"grader_kind,omitempty"`
	Result      grader.Result      `json:"result"`
}

// Consistency summarizes repeated trials of one scenario.
type Consistency struct {
	Scenario   string  `json:"scenario"`
	Trials     int     `json:"trials"`
	Passes     int     `json:"passes"`
	PassRate   float64 `json:"pass_rate"`
	PassAtK    bool    `json:"pass_at_k"`
	PassCaretK bool    `json:"pass_caret_k"`
	Majority   bool    `json:"majority"`

	// Expected is the scenario's declared verdict; Correct reports whether
	// the majority of trials reached it.
	Expected string `json:"expected,omitempty"`
	Correct  bool   `json:"correct,omitempty"`
}

// RunReport is the aggregate view of one run. Failed includes Errored.
type RunReport struct {
	RunID            string        `json:"run_id,omitempty"`
	Total            int           `json:"total"`
	Passed           int           `json:"passed"`
	Failed           int           `json:"failed"`
	Skipped          int           `json:"skipped"`
	Errored          int           `json:"errored"`
	PassRate         float64       `json:"pass_rate"`
	SkipRate         float64       `json:"skip_rate"`
	MeanScore        float64       `json:"mean_score"`
	ByCategory       []Breakdown   `json:"by_category"`
	ByPressure       []Breakdown   `json:"by_pressure"`
	Clusters         []Cluster     `json:"clusters"`
	Failures         []Failure     `json:"failures"`
	SkippedScenarios []string      `json:"skipped_scenarios,omitempty"`
	Consistency      []Consistency `json:"consistency"`
	JudgeCostUSD     float64       `json:"judge_cost_usd"`

	// Calibrated counts scenarios with an expected verdict; Accuracy is the
	// fraction of them whose majority verdict matched.
	Calibrated int     `json:"calibrated,omitempty"`
	Correct    int     `json:"correct,omitempty"`
	Accuracy   float64 `json:"accuracy,omitempty"`

	// Blocking counts exclude advisory scenarios; they decide the exit code.
	BlockingFailures int `json:"blocking_failures"`
	BlockingErrors   int `json:"blocking_errors"`
}

// Aggregate builds a report over results. Skipped results are excluded from
// the pass rate and listed separately.
func Aggregate(results []result.ScenarioResult) *RunReport {
	r := &RunReport{
		ByCategory:  []Breakdown{},
		ByPressure:  []Breakdown{},
		Clusters:    []Cluster{},
		Failures:    []Failure{},
		Consistency: []Consistency{},
	}
	byCategory := map[string]*Breakdown{}
	byPressure := map[string]*Breakdown{}
	clusters := map[[2]string]*Cluster{}
	trials := map[string][]bool{}
	expected := map[string]string{}
	var scoreSum float64

	for i := range results {
		res := &results[i]
		if r.RunID == "" {
			r.RunID = res.RunID
		}
		r.Total++
		r.JudgeCostUSD += res.JudgeCostUSD
		tally(byCategory, res.Category, res)
		tally(byPressure, res.Pressure, res)

		if res.Status == result.StatusSkipped {
			r.Skipped++
			r.SkippedScenarios = append(r.SkippedScenarios, res.Scenario)
			continue
		}
		scoreSum += res.Score
		trials[res.Scenario] = append(trials[res.Scenario], res.Status == result.StatusPassed)
		if res.Expected != "" {
			expected[res.Scenario] = res.Expected
		}

		key := [2]string{res.Category, res.Pressure}
		c, ok := clusters[key]
		if !ok {
			c = &Cluster{Category: res.Category, Pressure: res.Pressure}
			clusters[key] = c
		}
		c.Total++

		if res.Status == result.StatusPassed {
			r.Passed++
			c.Passed++
			continue
		}
		r.Failed++
		c.Failed++
		if res.Errored() {
			r.Errored++
			if !res.Advisory {
				r.BlockingErrors++
			}
		} else if !res.Advisory {
			r.BlockingFailures++
		}
		r.Failures = append(r.Failures, failuresOf(res)...)
	}

	if evaluated := r.Total - r.Skipped; evaluated > 0 {
		r.PassRate = float64(r.Passed) / float64(evaluated)
		r.MeanScore = scoreSum / float64(evaluated)
	}
	if r.Total > 0 {
		r.SkipRate = float64(r.Skipped) / float64(r.Total)
	}

	r.ByCategory = sortedBreakdowns(byCategory)
	r.ByPressure = sortedBreakdowns(byPressure)
	for _, c := range clusters {
		r.Clusters = append(r.Clusters, *c)
	}
	sort.Slice(r.Clusters, func(i, j int) bool {
		if r.Clusters[i].Category != r.Clusters[j].Category {
			return r.Clusters[i].Category < r.Clusters[j].Category
		}
		return r.Clusters[i].Pressure < r.Clusters[j].Pressure
	})
	for id, outcomes := range trials {
		passes := 0
		for _, ok := range outcomes {
			if ok {
				passes++
			}
		}
		c := Consistency{
			Scenario:   id,
			Trials:     len(outcomes),
			Passes:     passes,
			PassRate:   metrics.PassRate(outcomes),
			PassAtK:    metrics.PassAtK(outcomes),
			PassCaretK: metrics.PassCaretK(outcomes),
			Majority:   metrics.Majority(outcomes),
			Expected:   expected[id],
		}
		if c.Expected != "" {
			c.Correct = c.Majority == (c.Expected == scenario.ExpectPass)
			r.Calibrated++
			if c.Correct {
				r.Correct++
			}
		}
		r.Consistency = append(r.Consistency, c)
	}
	if r.Calibrated > 0 {
		r.Accuracy = float64(r.Correct) / float64(r.Calibrated)
	}
	sort.Slice(r.Consistency, func(i, j int) bool { return r.Consistency[i].Scenario < r.Consistency[j].Scenario })
	sort.Strings(r.SkippedScenarios)
	return r
}

func tally(m map[string]*Breakdown, name string, res *result.ScenarioResult) {
	if name == "" {
		name = "(none)"
	}
	b, ok := m[name]
	if !ok {
		b = &Breakdown{Name: name}
		m[name] = b
	}
	b.Total++
	switch res.Status {
	case result.StatusPassed:
		b.Passed++
	case result.StatusSkipped:
		b.Skipped++
	case result.StatusError:
		b.Failed++
		b.Errored++
	default:
		b.Failed++
	}
	if evaluated := b.Total - b.Skipped; evaluated > 0 {
		b.PassRate = float64(b.Passed) / float64(evaluated)
	}
}

func sortedBreakdowns(m map[string]*Breakdown) []Breakdown {
	out := make([]Breakdown, 0, len(m))
	for _, b := range m {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// failuresOf lists the failing required graders of res, or the result
// itself when no grader explains the failure.
func failuresOf(res *result.ScenarioResult) []Failure {
	var out []Failure
	if res.FailureKind == result.FailureBehavioral || res.FailureKind == result.FailureGradingInfra {
		for _, o := range res.Graders {
			if o.Advisory || o.Result.Passed {
				continue
			}
			out = append(out, Failure{
				Scenario:    res.Scenario,
				Trial:       res.Trial,
				Category:    res.Category,
				FailureKind: res.FailureKind,
				Advisory:    res.Advisory,
				Grader:      o.Grader,
				GraderKind:  o.Kind,
				Result:      o.Result,
			})
		}
	}
	if len(out) > 0 {
		return out
	}
	return []Failure{{
		Scenario:    res.Scenario,
		Trial:       res.Trial,
		Category:    res.Category,
		FailureKind: res.FailureKind,
		Advisory:    res.Advisory,
		Result:      grader.Result{Passed: false, Score: res.Score, Message: res.Message, Infra: res.Errored()},
	}}
}

// Generate reads the stored results of a run and renders the report.
func Generate(runDir, format string, w io.Writer) error {
	stored, err := result.CollectResults(runDir)
	if err != nil {
		return err
	}
	rep := Aggregate(result.Results(stored))
	if info, err := result.ReadRunInfo(runDir); err == nil {
		rep.RunID = info.RunID
	}
	return Write(rep, format, w)
}

// Write renders rep as table, markdown or json.
func Write(rep *RunReport, format string, w io.Writer) error {
	switch format {
	case "markdown", "md":
		return writeMarkdown(rep, w)
	case "json":
		return writeJSON(rep, w)
	case "table", "":
		return writeTable(rep, w)
	}
	return fmt.Errorf("unknown report format %q", format)
}

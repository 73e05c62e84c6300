package runner

import (
	"context"
	"fmt"

	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/scenario"
)

// RegradeOpts configure re-grading of a stored trial.
type RegradeOpts struct {
	Scenario *scenario.Scenario
	Stored   result.StoredResult
	Graders  grader.Deps
	Retry    grader.RetryPolicy
}

// Regradable reports whether a stored result got as far as grading. Skipped,
// canceled and setup failures have no transcript worth judging again.
func Regradable(res *result.ScenarioResult) bool {
	switch res.FailureKind {
	case result.FailureNone, result.FailureBehavioral, result.FailureTimeout, result.FailureGradingInfra:
		return res.Status != result.StatusSkipped
	}
	return false
}

// Regrade re-runs the scenario's graders over a stored transcript and returns
// the updated result. The working directory is gone by now, so file and
// command graders keep their stored outcome.
func Regrade(ctx context.Context, opts *RegradeOpts) (*result.ScenarioResult, error) {
	prev := opts.Stored.Result
	if !Regradable(prev) {
		return nil, fmt.Errorf("scenario %s trial %d was not graded (%s)", prev.Scenario, prev.Trial, prev.Status)
	}
	graders, err := grader.BuildAll(opts.Scenario.Graders, opts.Graders)
	if err != nil {
		return nil, err
	}
	output, err := result.ReadTranscript(opts.Stored.Dir)
	if err != nil {
		return nil, err
	}
	diff, err := result.ReadDiff(opts.Stored.Dir)
	if err != nil {
		return nil, err
	}

	t := &Transcript{
		Output:       output,
		ExitCode:     prev.ExitCode,
		Duration:     prev.Duration(),
		TimedOut:     prev.FailureKind == result.FailureTimeout,
		FilesChanged: prev.FilesChanged,
		Artifacts:    prev.Artifacts,
		Diff:         diff,
	}
	in := GradeInput(opts.Scenario, t, "")

	stored := make(map[string]grader.Outcome, len(prev.Graders))
	for _, o := range prev.Graders {
		stored[o.Grader] = o
	}
	outcomes := make([]grader.Outcome, 0, len(graders))
	for _, g := range graders {
		if grader.NeedsWorkspace(g.Kind()) {
			if o, ok := stored[g.Name()]; ok {
				outcomes = append(outcomes, o)
				continue
			}
		}
		outcomes = append(outcomes, grader.Outcome{
			Grader:   g.Name(),
			Kind:     g.Kind(),
			Advisory: g.Advisory(),
			Result:   grader.Evaluate(ctx, g, in, opts.Retry),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := *prev
	res.Advisory = opts.Scenario.Advisory
	res.Expected = opts.Scenario.Expected
	Finish(&res, outcomes, t.TimedOut)
	return &res, nil
}

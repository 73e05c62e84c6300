package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/scenario"
)

func TestExitReasonFromCode(t *testing.T) {
	tests := []struct {
		code     int
		timedOut bool
		want     string
	}{
		{0, false, "completed"},
		{1, false, "crashed"},
		{2, false, "gave_up"},
		{124, true, "timeout"},
		{42, false, "crashed"},
	}
	for _, tt := range tests {
		got := runner.ExitReasonFromCode(tt.code, tt.timedOut)
		if got != tt.want {
			t.Errorf("ExitReasonFromCode(%d, %v) = %q, want %q", tt.code, tt.timedOut, got, tt.want)
		}
	}
}

func shell(script string) scenario.Subject {
	return scenario.Subject{Command: "sh", Args: []string{"-c", script}}
}

func trialOpts(t *testing.T, sc *scenario.Scenario, subject scenario.Subject) *runner.TrialOpts {
	t.Helper()
	return &runner.TrialOpts{
		Scenario: sc,
		Trial:    1,
		RunID:    "test-run",
		TempRoot: t.TempDir(),
		Subject:  subject,
		Timebox:  30 * time.Second,
		Executor: &runner.LocalExecutor{Grace: time.Second},
		Retry:    grader.RetryPolicy{Attempts: 1},
	}
}

func TestRunScenarioPasses(t *testing.T) {
	sc := &scenario.Scenario{
		ID:       "claims",
		Category: "claims-without-evidence",
		Prompt:   "fix it",
		Graders:  []scenario.GraderSpec{{Kind: "regex", MustMatch: []string{"ok\\s+calc"}}, {Kind: "exit_code"}},
	}
	res, err := runner.RunScenario(context.Background(), trialOpts(t, sc, shell("echo 'ok  calc 0.01s'")))
	require.NoError(t, err)
	assert.Equal(t, result.StatusPassed, res.Status)
	assert.Equal(t, result.FailureNone, res.FailureKind)
	assert.Equal(t, 100.0, res.Score)
	assert.Equal(t, "completed", res.ExitReason)
	assert.Len(t, res.Graders, 2)
}

func TestRunScenarioBehavioralFailure(t *testing.T) {
	sc := &scenario.Scenario{
		ID:      "skip",
		Prompt:  "run the tests",
		Graders: []scenario.GraderSpec{{Kind: "keywords", Forbidden: []string{"skipping tests"}}},
	}
	res, err := runner.RunScenario(context.Background(), trialOpts(t, sc, shell("echo 'Skipping tests, no time.'")))
	require.NoError(t, err)
	assert.Equal(t, result.StatusFailed, res.Status)
	assert.Equal(t, result.FailureBehavioral, res.FailureKind)
}

func TestRunScenarioIsolatesConcurrentRuns(t *testing.T) {
	tempRoot := t.TempDir()
	var wg sync.WaitGroup
	results := make([]*result.ScenarioResult, 2)
	for i, id := range []string{"alpha", "beta"} {
		sc := &scenario.Scenario{
			ID:     id,
			Prompt: "write a marker",
			Graders: []scenario.GraderSpec{
				{Kind: "file", Path: "marker.txt", Contains: []string{id}},
				{Kind: "regex", MustMatch: []string{"^" + id + "$"}},
			},
		}
		opts := trialOpts(t, sc, shell(`printf %s "$GAUNTLET_SCENARIO" > marker.txt; sleep 0.2; cat marker.txt`))
		opts.TempRoot = tempRoot
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := runner.RunScenario(context.Background(), opts)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, result.StatusPassed, res.Status, "%s: %s", res.Scenario, res.Message)
		assert.Contains(t, res.FilesChanged, "marker.txt")
	}
	entries, err := os.ReadDir(tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "working directories must be cleaned up")
}

func TestRunScenarioTimeout(t *testing.T) {
	sc := &scenario.Scenario{
		ID:      "slow",
		Prompt:  "hurry",
		Timebox: scenario.Duration(300 * time.Millisecond),
		Graders: []scenario.GraderSpec{{Kind: "regex", MustMatch: []string{"started"}}},
	}
	opts := trialOpts(t, sc, shell("echo started; sleep 30"))
	start := time.Now()
	res, err := runner.RunScenario(context.Background(), opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 300*time.Millisecond+3*time.Second)

	assert.Equal(t, result.StatusFailed, res.Status)
	assert.Equal(t, result.FailureTimeout, res.FailureKind)
	assert.Equal(t, "timeout", res.ExitReason)
	assert.Equal(t, runner.TimeoutExitCode, res.ExitCode)
	require.Len(t, res.Graders, 1)
	assert.True(t, res.Graders[0].Result.Passed, "partial output is graded")
}

func TestRunScenarioSetupError(t *testing.T) {
	sc := &scenario.Scenario{ID: "nobin", Prompt: "p", Graders: []scenario.GraderSpec{{Kind: "exit_code"}}}
	opts := trialOpts(t, sc, scenario.Subject{Command: "/nonexistent/agent"})
	res, err := runner.RunScenario(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, result.FailureSetup, res.FailureKind)
	assert.True(t, res.Errored())

	entries, _ := os.ReadDir(opts.TempRoot)
	assert.Empty(t, entries)
}

func TestRunScenarioSkipsMissingRequirement(t *testing.T) {
	sc := &scenario.Scenario{
		ID:       "needs-tool",
		Prompt:   "p",
		Requires: []string{"definitely-not-installed-gauntlet-tool"},
		Graders:  []scenario.GraderSpec{{Kind: "exit_code"}},
	}
	res, err := runner.RunScenario(context.Background(), trialOpts(t, sc, shell("true")))
	require.NoError(t, err)
	assert.Equal(t, result.StatusSkipped, res.Status)
	assert.Contains(t, res.Message, "definitely-not-installed-gauntlet-tool")
}

func TestRunScenarioCanceled(t *testing.T) {
	sc := &scenario.Scenario{ID: "c", Prompt: "p", Graders: []scenario.GraderSpec{{Kind: "exit_code"}}}
	opts := trialOpts(t, sc, shell("sleep 30"))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := runner.RunScenario(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, result.FailureCanceled, res.FailureKind)
	entries, _ := os.ReadDir(opts.TempRoot)
	assert.Empty(t, entries)
}

func TestRunScenarioWritesResults(t *testing.T) {
	sc := &scenario.Scenario{ID: "saved", Prompt: "p", Graders: []scenario.GraderSpec{{Kind: "exit_code"}}}
	opts := trialOpts(t, sc, shell("echo hello"))
	opts.RunDir = t.TempDir()
	opts.Trial = 2

	_, err := runner.RunScenario(context.Background(), opts)
	require.NoError(t, err)

	dir := result.TrialDir(opts.RunDir, "saved", 2)
	stored, err := result.ReadScenarioResult(filepath.Join(dir, "result.json"))
	require.NoError(t, err)
	assert.Equal(t, result.StatusPassed, stored.Status)
	transcript, err := result.ReadTranscript(dir)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", transcript)
}

func TestFinishInfra(t *testing.T) {
	res := &result.ScenarioResult{}
	runner.Finish(res, []grader.Outcome{
		{Grader: "judge", Kind: "model", Result: grader.Failed(errors.New("judge unreachable"))},
		{Grader: "ran", Kind: "regex", Result: grader.Result{Passed: true, Score: 100}},
	}, false)
	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, result.FailureGradingInfra, res.FailureKind)
}

func TestFinishSumsJudgeCost(t *testing.T) {
	res := &result.ScenarioResult{}
	runner.Finish(res, []grader.Outcome{
		{Grader: "a", Result: grader.Result{Passed: true, Score: 90, Details: map[string]any{"judge_cost_usd": 0.25}}},
		{Grader: "b", Result: grader.Result{Passed: true, Score: 80, Details: map[string]any{"judge_cost_usd": 0.5}}},
	}, false)
	assert.InDelta(t, 0.75, res.JudgeCostUSD, 1e-9)
	assert.Equal(t, 80.0, res.Score)
}

type panickingExecutor struct{ dir string }

func (e *panickingExecutor) Execute(_ context.Context, inv runner.Invocation) (*runner.Execution, error) {
	e.dir = inv.Dir
	panic("executor exploded")
}

func TestRunScenarioCleansUpAfterPanic(t *testing.T) {
	sc := &scenario.Scenario{ID: "boom", Prompt: "p", Graders: []scenario.GraderSpec{{Kind: "exit_code"}}}
	opts := trialOpts(t, sc, shell("true"))
	exe := &panickingExecutor{}
	opts.Executor = exe

	res, err := runner.RunScenario(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, result.StatusError, res.Status)
	assert.Equal(t, result.FailureSetup, res.FailureKind)
	assert.Contains(t, res.Message, "executor exploded")

	require.NotEmpty(t, exe.dir)
	_, statErr := os.Stat(exe.dir)
	assert.True(t, os.IsNotExist(statErr), "working directory survived the panic")
	entries, err := os.ReadDir(opts.TempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

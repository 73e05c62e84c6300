package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/isolation"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/scenario"
)

type TrialOpts struct {
	Scenario *scenario.Scenario
	Trial    int
	RunID    string

	// RunDir receives the result and transcript. Nothing is written when empty.
	RunDir   string
	TempRoot string

	// Subject and Timebox apply when the scenario does not set its own.
	Subject  scenario.Subject
	Timebox  time.Duration
	Executor Executor
	Graders  grader.Deps
	Retry    grader.RetryPolicy

	// GradeTimeout bounds grading of one scenario, judge calls included.
	GradeTimeout time.Duration
	Logger       *slog.Logger
}

func ExitReasonFromCode(code int, timedOut bool) string {
	if timedOut {
		return "timeout"
	}
	switch code {
	case 0:
		return "completed"
	case 2:
		return "gave_up"
	default:
		return "crashed"
	}
}

// RunScenario runs and grades one trial of a scenario. Every failure is
// recorded in the returned result; the error is non-nil only when the host
// is out of resources (ErrExhausted) and the run should stop.
func RunScenario(ctx context.Context, opts *TrialOpts) (res *result.ScenarioResult, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sc := opts.Scenario
	logger = logger.With("scenario", sc.ID, "trial", opts.Trial)

	res = &result.ScenarioResult{
		RunID:    opts.RunID,
		Scenario: sc.ID,
		Category: sc.Category,
		Pressure: sc.Pressure,
		Trial:    opts.Trial,
		Advisory: sc.Advisory,
		Expected: sc.Expected,
	}
	var transcript *Transcript
	defer func() {
		save(opts, res, transcript, logger)
	}()

	if missing := MissingRequirements(sc.Requires); len(missing) > 0 {
		res.Status = result.StatusSkipped
		res.Message = "missing required tools: " + strings.Join(missing, ", ")
		logger.Info("skipping scenario", "missing", missing)
		return res, nil
	}
	if ctx.Err() != nil {
		fail(res, result.FailureCanceled, ctx.Err().Error())
		return res, nil
	}

	graders, err := grader.BuildAll(sc.Graders, opts.Graders)
	if err != nil {
		fail(res, result.FailureSetup, err.Error())
		return res, nil
	}

	iso, err := isolation.CreateIn(opts.TempRoot)
	if err != nil {
		fail(res, result.FailureIsolation, err.Error())
		if isolation.Exhausted(err) {
			return res, fmt.Errorf("%w: %v", ErrExhausted, err)
		}
		return res, nil
	}
	defer func() {
		if cerr := release(iso); cerr != nil {
			logger.Error("cleaning up working directory", "dir", iso.WorkingDir(), "error", cerr)
			fail(res, result.FailureIsolation, fmt.Sprintf("cleanup: %v (verdict was: %s)", cerr, res.Message))
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("scenario panicked", "panic", p)
			fail(res, result.FailureSetup, fmt.Sprintf("panic: %v", p))
		}
	}()

	timebox := sc.Timebox.Std()
	if timebox <= 0 {
		timebox = opts.Timebox
	}
	subject := opts.Subject
	if sc.Subject != nil {
		subject = *sc.Subject
	}

	start := time.Now()
	transcript, err = Run(ctx, &Opts{
		Scenario: sc,
		Subject:  subject,
		WorkDir:  iso.WorkingDir(),
		Timebox:  timebox,
		Executor: opts.Executor,
		Logger:   logger,
	})
	res.DurationS = time.Since(start).Seconds()

	var timeoutErr *TimeoutError
	switch {
	case err == nil:
	case errors.As(err, &timeoutErr):
		logger.Info("subject timed out", "timebox", timebox)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		record(res, transcript)
		fail(res, result.FailureCanceled, err.Error())
		return res, nil
	default:
		record(res, transcript)
		fail(res, result.FailureSetup, err.Error())
		return res, nil
	}
	record(res, transcript)

	gradeCtx := ctx
	if opts.GradeTimeout > 0 {
		var cancel context.CancelFunc
		gradeCtx, cancel = context.WithTimeout(ctx, opts.GradeTimeout)
		defer cancel()
	}
	in := GradeInput(sc, transcript, iso.WorkingDir())
	outcomes := GradeAll(gradeCtx, graders, in, opts.Retry)
	if ctx.Err() != nil {
		res.Graders = outcomes
		fail(res, result.FailureCanceled, ctx.Err().Error())
		return res, nil
	}
	Finish(res, outcomes, transcript.TimedOut)
	logger.Info("scenario finished", "status", res.Status, "score", res.Score, "duration", res.Duration().Round(time.Millisecond))
	return res, nil
}

// release removes the working directory, retrying once.
func release(iso *isolation.Context) error {
	if err := iso.Cleanup(); err == nil {
		return nil
	}
	time.Sleep(100 * time.Millisecond)
	return iso.Cleanup()
}

func record(res *result.ScenarioResult, t *Transcript) {
	if t == nil {
		return
	}
	res.ExitCode = t.ExitCode
	res.ExitReason = ExitReasonFromCode(t.ExitCode, t.TimedOut)
	res.FilesChanged = t.FilesChanged
	res.Artifacts = t.Artifacts
}

func fail(res *result.ScenarioResult, kind result.FailureKind, msg string) {
	res.Status = result.StatusFor(kind)
	res.FailureKind = kind
	res.Score = 0
	res.Message = msg
}

// GradeInput assembles what graders see for a finished subject run.
func GradeInput(sc *scenario.Scenario, t *Transcript, workDir string) grader.Input {
	ctx := map[string]any{
		grader.CtxScenarioID:   sc.ID,
		grader.CtxCategory:     sc.Category,
		grader.CtxPressure:     sc.Pressure,
		grader.CtxPrompt:       sc.Prompt,
		grader.CtxExitCode:     t.ExitCode,
		grader.CtxTimedOut:     t.TimedOut,
		grader.CtxElapsed:      t.Duration.Seconds(),
		grader.CtxFilesChanged: t.FilesChanged,
	}
	if workDir != "" {
		ctx[grader.CtxWorkingDir] = workDir
	}
	if t.Diff != "" {
		ctx[grader.CtxDiff] = t.Diff
	}
	return grader.Input{Content: t.Output, Context: ctx}
}

// GradeAll evaluates every grader in declaration order.
func GradeAll(ctx context.Context, graders []grader.Grader, in grader.Input, policy grader.RetryPolicy) []grader.Outcome {
	outcomes := make([]grader.Outcome, 0, len(graders))
	for _, g := range graders {
		outcomes = append(outcomes, grader.Outcome{
			Grader:   g.Name(),
			Kind:     g.Kind(),
			Advisory: g.Advisory(),
			Result:   grader.Evaluate(ctx, g, in, policy),
		})
	}
	return outcomes
}

// Finish folds grader outcomes into res. A timed-out subject fails whatever
// the graders concluded from its partial output.
func Finish(res *result.ScenarioResult, outcomes []grader.Outcome, timedOut bool) {
	v := grader.Combine(outcomes)
	res.Graders = outcomes
	res.AdvisoryFailures = v.AdvisoryFailures
	res.JudgeCostUSD = 0
	for _, o := range outcomes {
		if cost, ok := o.Result.Details["judge_cost_usd"].(float64); ok {
			res.JudgeCostUSD += cost
		}
	}

	res.Score = v.Score
	res.Message = v.Message
	switch {
	case timedOut:
		res.Status = result.StatusFailed
		res.FailureKind = result.FailureTimeout
		res.Message = "timed out; " + v.Message
	case v.Passed:
		res.Status = result.StatusPassed
		res.FailureKind = result.FailureNone
	case v.Infra:
		res.Status = result.StatusError
		res.FailureKind = result.FailureGradingInfra
	default:
		res.Status = result.StatusFailed
		res.FailureKind = result.FailureBehavioral
	}
}

// MissingRequirements lists the required binaries not found on PATH.
func MissingRequirements(requires []string) []string {
	var missing []string
	for _, bin := range requires {
		if _, err := exec.LookPath(bin); err != nil {
			missing = append(missing, bin)
		}
	}
	return missing
}

func save(opts *TrialOpts, res *result.ScenarioResult, t *Transcript, logger *slog.Logger) {
	if opts.RunDir == "" {
		return
	}
	dir := result.TrialDir(opts.RunDir, res.Scenario, res.Trial)
	if err := result.WriteScenarioResult(dir, res); err != nil {
		logger.Error("writing result", "error", err)
	}
	if t == nil {
		return
	}
	if err := result.WriteTranscript(dir, t.Output); err != nil {
		logger.Error("writing transcript", "error", err)
	}
	if err := result.WriteDiff(dir, t.Diff); err != nil {
		logger.Error("writing diff", "error", err)
	}
}

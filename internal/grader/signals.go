package grader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalnine/gauntlet/internal/scenario"
)

var errNoWorkspace = errors.New("working directory not available")

// ExitCodeGrader checks the subject's exit status.
type ExitCodeGrader struct {
	base
	expect int
}

func (g *ExitCodeGrader) Grade(_ context.Context, in Input) (Result, error) {
	code, ok := intValue(in.Context[CtxExitCode])
	if !ok {
		return Result{}, fmt.Errorf("%s missing from grade input", CtxExitCode)
	}
	check := Check{Name: fmt.Sprintf("exit code %d", g.expect), Passed: code == g.expect}
	r := g.scoreChecks([]Check{check})
	r.Details["exit_code"] = code
	return r, nil
}

// DurationGrader fails subjects that ran longer than a limit.
type DurationGrader struct {
	base
	limit time.Duration
}

func (g *DurationGrader) Grade(_ context.Context, in Input) (Result, error) {
	secs, ok := floatValue(in.Context[CtxElapsed])
	if !ok {
		return Result{}, fmt.Errorf("%s missing from grade input", CtxElapsed)
	}
	elapsed := time.Duration(secs * float64(time.Second))
	check := Check{Name: fmt.Sprintf("finished within %s", g.limit), Passed: elapsed <= g.limit}
	r := g.scoreChecks([]Check{check})
	r.Details["elapsed"] = elapsed.Round(time.Millisecond).String()
	return r, nil
}

// FileGrader inspects a file the subject should have produced or left alone.
type FileGrader struct {
	base
	path     string
	contains []string
	absent   bool
}

func (g *FileGrader) Grade(_ context.Context, in Input) (Result, error) {
	dir := stringValue(in.Context[CtxWorkingDir])
	if dir == "" {
		return Result{}, errNoWorkspace
	}
	data, err := os.ReadFile(filepath.Join(dir, g.path))
	exists := err == nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Result{}, fmt.Errorf("reading %s: %w", g.path, err)
	}

	if g.absent {
		return g.scoreChecks([]Check{{Name: fmt.Sprintf("%s absent", g.path), Passed: !exists}}), nil
	}
	checks := []Check{{Name: fmt.Sprintf("%s exists", g.path), Passed: exists}}
	content := normalize(string(data))
	for _, want := range g.contains {
		checks = append(checks, Check{
			Name:   fmt.Sprintf("%s contains %q", g.path, want),
			Passed: exists && strings.Contains(content, normalize(want)),
		})
	}
	return g.scoreChecks(checks), nil
}

// CommandGrader runs a check command in the working directory after the
// subject finishes and scores its output.
type CommandGrader struct {
	base
	run     string
	parse   string
	timeout time.Duration
}

const maxCommandOutput = 4096

func (g *CommandGrader) Grade(ctx context.Context, in Input) (Result, error) {
	dir := stringValue(in.Context[CtxWorkingDir])
	if dir == "" {
		return Result{}, errNoWorkspace
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", g.run)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || ctx.Err() != nil {
			return Result{}, fmt.Errorf("running %q: %w", g.run, err)
		}
		exitCode = exitErr.ExitCode()
	}

	var score float64
	switch g.parse {
	case scenario.ParseLint:
		score = ParseLintResults(string(out), exitCode, 0).Score * 100
	case scenario.ParseExit:
		if exitCode == 0 {
			score = 100
		}
	default:
		score = ParseTestResults(string(out), exitCode).Score * 100
	}

	output := string(out)
	if len(output) > maxCommandOutput {
		output = output[len(output)-maxCommandOutput:]
	}
	msg := fmt.Sprintf("%q exited %d, score %.0f", g.run, exitCode, score)
	return g.result(score, msg, map[string]any{
		"exit_code": exitCode,
		"output":    output,
	}), nil
}

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/signalnine/gauntlet/internal/gitops"
	"github.com/signalnine/gauntlet/internal/scenario"
)

// Opts configure one subject run inside a prepared working directory.
type Opts struct {
	Scenario *scenario.Scenario
	Subject  scenario.Subject
	WorkDir  string
	Timebox  time.Duration
	Executor Executor
	Logger   *slog.Logger
}

// Transcript is everything captured from one subject run.
type Transcript struct {
	Output       string
	ExitCode     int
	Duration     time.Duration
	TimedOut     bool
	FilesChanged []string
	Artifacts    map[string]string
	Diff         string
}

// Run materializes the scenario's fixtures in opts.WorkDir and runs the
// subject there within the time-box. On timeout or cancellation the partial
// transcript is returned together with the error.
func Run(ctx context.Context, opts *Opts) (*Transcript, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sc := opts.Scenario
	if opts.Subject.Command == "" {
		return nil, &SetupError{Stage: "subject", Err: errors.New("no subject command configured")}
	}
	if err := Materialize(sc, opts.WorkDir); err != nil {
		return nil, &SetupError{Stage: "fixtures", Err: err}
	}
	promptFile, err := writePrompt(opts.WorkDir, sc.Prompt)
	if err != nil {
		return nil, &SetupError{Stage: "prompt", Err: err}
	}
	before, err := Snapshot(opts.WorkDir)
	if err != nil {
		return nil, &SetupError{Stage: "snapshot", Err: err}
	}

	inv, err := BuildInvocation(sc, opts.Subject, opts.WorkDir, promptFile)
	if err != nil {
		return nil, &SetupError{Stage: "subject", Err: err}
	}

	runCtx := ctx
	if opts.Timebox > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timebox)
		defer cancel()
	}
	logger.Debug("starting subject", "scenario", sc.ID, "command", inv.Command, "timebox", opts.Timebox)
	exe, execErr := opts.Executor.Execute(runCtx, inv)
	if exe == nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scenario %s canceled: %w", sc.ID, ctx.Err())
		}
		return nil, &SetupError{Stage: "start", Err: execErr}
	}

	t := &Transcript{Output: exe.Output, ExitCode: exe.ExitCode, Duration: exe.Duration}
	collectChanges(t, opts.WorkDir, before, logger)

	switch {
	case execErr == nil:
		return t, nil
	case ctx.Err() != nil:
		return t, fmt.Errorf("scenario %s canceled: %w", sc.ID, ctx.Err())
	case errors.Is(execErr, context.DeadlineExceeded):
		t.TimedOut = true
		t.ExitCode = TimeoutExitCode
		return t, &TimeoutError{Timebox: opts.Timebox, Transcript: t}
	default:
		return t, &SetupError{Stage: "run", Err: execErr}
	}
}

func collectChanges(t *Transcript, dir string, before map[string]string, logger *slog.Logger) {
	after, err := Snapshot(dir)
	if err != nil {
		logger.Warn("snapshotting working directory", "dir", dir, "error", err)
		return
	}
	t.FilesChanged, t.Artifacts = Changed(before, after)
	if gitops.IsRepo(dir) {
		diff, err := gitops.CaptureChanges(dir)
		if err != nil {
			logger.Warn("capturing changes", "dir", dir, "error", err)
			return
		}
		t.Diff = string(diff)
	}
}

// Materialize populates dir with the scenario's fixture repository, fixture
// directory and inline files, in that order.
func Materialize(sc *scenario.Scenario, dir string) error {
	if sc.FixtureRepo != nil {
		if err := gitops.CloneAndCheckout(sc.FixtureRepo.URL, sc.FixtureRepo.Ref, dir); err != nil {
			return fmt.Errorf("cloning fixture repo: %w", err)
		}
		exclude := filepath.Join(dir, ".git", "info", "exclude")
		if err := appendLine(exclude, MetaDir+"/"); err != nil {
			return fmt.Errorf("excluding %s from git: %w", MetaDir, err)
		}
	}
	if sc.FixtureDir != "" {
		if err := gitops.CopyDir(sc.FixtureDir, dir); err != nil {
			return fmt.Errorf("copying fixture dir: %w", err)
		}
	}

	names := make([]string, 0, len(sc.Files))
	for name := range sc.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("fixture file %q escapes the working directory", name)
		}
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating dir for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(sc.Files[name]), 0o644); err != nil {
			return fmt.Errorf("writing fixture file %s: %w", name, err)
		}
	}
	return nil
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString("\n" + line + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writePrompt(dir, prompt string) (string, error) {
	metaDir := filepath.Join(dir, MetaDir)
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(metaDir, "PROMPT.md")
	if err := os.WriteFile(path, []byte(prompt), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// BuildInvocation expands the subject's placeholders for one scenario:
// {prompt}, {prompt_file}, {workdir} and {scenario}. The same values are
// exported as GAUNTLET_* environment variables.
func BuildInvocation(sc *scenario.Scenario, subject scenario.Subject, workDir, promptFile string) (Invocation, error) {
	r := strings.NewReplacer(
		"{prompt}", sc.Prompt,
		"{prompt_file}", promptFile,
		"{workdir}", workDir,
		"{scenario}", sc.ID,
	)

	command := subject.Command
	if strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) {
		abs, err := filepath.Abs(command)
		if err != nil {
			return Invocation{}, fmt.Errorf("resolving subject command: %w", err)
		}
		command = abs
	}

	args := make([]string, len(subject.Args))
	for i, a := range subject.Args {
		args[i] = r.Replace(a)
	}
	env := map[string]string{
		"GAUNTLET_PROMPT":      sc.Prompt,
		"GAUNTLET_PROMPT_FILE": promptFile,
		"GAUNTLET_WORKDIR":     workDir,
		"GAUNTLET_SCENARIO":    sc.ID,
	}
	for k, v := range subject.Env {
		env[k] = r.Replace(v)
	}

	inv := Invocation{Command: command, Args: args, Env: env, Dir: workDir}
	if subject.Stdin {
		inv.Stdin = sc.Prompt
	}
	return inv, nil
}

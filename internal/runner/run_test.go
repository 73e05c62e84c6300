package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/scenario"
)

func TestLocalExecutor(t *testing.T) {
	e := &runner.LocalExecutor{}
	res, err := e.Execute(context.Background(), runner.Invocation{
		Command: "sh",
		Args:    []string{"-c", `echo out; echo err >&2; cat; exit 3`},
		Env:     map[string]string{"X": "1"},
		Dir:     t.TempDir(),
		Stdin:   "from stdin",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "err")
	assert.Contains(t, res.Output, "from stdin")
}

func TestLocalExecutorStartFailure(t *testing.T) {
	e := &runner.LocalExecutor{}
	res, err := e.Execute(context.Background(), runner.Invocation{Command: "/nonexistent/agent", Dir: t.TempDir()})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestLocalExecutorKillsProcessGroup(t *testing.T) {
	e := &runner.LocalExecutor{Grace: 500 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The grandchild keeps stdout open; the whole group must die.
	res, err := e.Execute(ctx, runner.Invocation{
		Command: "sh",
		Args:    []string{"-c", "echo partial; sleep 30 & wait"},
		Dir:     t.TempDir(),
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, res)
	assert.Equal(t, runner.TimeoutExitCode, res.ExitCode)
	assert.Contains(t, res.Output, "partial")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunTimeoutKeepsPartialTranscript(t *testing.T) {
	sc := &scenario.Scenario{ID: "slow", Prompt: "p"}
	_, err := runner.Run(context.Background(), &runner.Opts{
		Scenario: sc,
		Subject:  shell("echo halfway; sleep 30"),
		WorkDir:  t.TempDir(),
		Timebox:  200 * time.Millisecond,
		Executor: &runner.LocalExecutor{Grace: time.Second},
	})
	var timeoutErr *runner.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Transcript.TimedOut)
	assert.Contains(t, timeoutErr.Transcript.Output, "halfway")
}

func TestRunSetupErrors(t *testing.T) {
	sc := &scenario.Scenario{ID: "x", Prompt: "p"}
	_, err := runner.Run(context.Background(), &runner.Opts{Scenario: sc, WorkDir: t.TempDir(), Executor: &runner.LocalExecutor{}})
	var setupErr *runner.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "subject", setupErr.Stage)

	bad := &scenario.Scenario{ID: "y", Prompt: "p", Files: map[string]string{"../escape.txt": "x"}}
	_, err = runner.Run(context.Background(), &runner.Opts{Scenario: bad, Subject: shell("true"), WorkDir: t.TempDir(), Executor: &runner.LocalExecutor{}})
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "fixtures", setupErr.Stage)
}

func TestRunCapturesChanges(t *testing.T) {
	dir := t.TempDir()
	sc := &scenario.Scenario{
		ID:     "edit",
		Prompt: "p",
		Files:  map[string]string{"keep.txt": "same", "edit.txt": "before", "gone.txt": "bye"},
	}
	tr, err := runner.Run(context.Background(), &runner.Opts{
		Scenario: sc,
		Subject:  shell("echo after > edit.txt; rm gone.txt; echo new > new.txt"),
		WorkDir:  dir,
		Executor: &runner.LocalExecutor{},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"edit.txt", "gone.txt", "new.txt"}, tr.FilesChanged)
	assert.Contains(t, tr.Artifacts, "new.txt")
	assert.NotContains(t, tr.Artifacts, "gone.txt")
	assert.Len(t, tr.Artifacts["new.txt"], 64)
}

func TestMaterialize(t *testing.T) {
	fixture := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "calc.go"), []byte("package calc\n"), 0o644))

	dir := t.TempDir()
	sc := &scenario.Scenario{
		FixtureDir: fixture,
		Files:      map[string]string{"calc.go": "package calc // inline wins\n", "docs/README.md": "# hi"},
	}
	require.NoError(t, runner.Materialize(sc, dir))

	data, err := os.ReadFile(filepath.Join(dir, "calc.go"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "inline wins")
	_, err = os.Stat(filepath.Join(dir, "docs", "README.md"))
	assert.NoError(t, err)
}

func TestBuildInvocation(t *testing.T) {
	sc := &scenario.Scenario{ID: "st-1", Prompt: "fix the bug"}
	subject := scenario.Subject{
		Command: "agent",
		Args:    []string{"--print", "{prompt}", "--file={prompt_file}", "--cwd", "{workdir}"},
		Env:     map[string]string{"TAG": "{scenario}"},
		Stdin:   true,
	}
	inv, err := runner.BuildInvocation(sc, subject, "/tmp/w", "/tmp/w/.gauntlet/PROMPT.md")
	require.NoError(t, err)
	assert.Equal(t, "agent", inv.Command)
	assert.Equal(t, []string{"--print", "fix the bug", "--file=/tmp/w/.gauntlet/PROMPT.md", "--cwd", "/tmp/w"}, inv.Args)
	assert.Equal(t, "st-1", inv.Env["TAG"])
	assert.Equal(t, "st-1", inv.Env["GAUNTLET_SCENARIO"])
	assert.Equal(t, "fix the bug", inv.Stdin)

	inv, err = runner.BuildInvocation(sc, scenario.Subject{Command: "./bin/agent"}, "/tmp/w", "")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(inv.Command))
	assert.True(t, strings.HasSuffix(inv.Command, filepath.Join("bin", "agent")))
}

func TestSnapshotSkipsMetaDirs(t *testing.T) {
	dir := t.TempDir()
	for _, p := range []string{".git/HEAD", ".gauntlet/PROMPT.md", "src/main.go"} {
		path := filepath.Join(dir, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(p), 0o644))
	}
	snap, err := runner.Snapshot(dir)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Contains(t, snap, "src/main.go")
}

func TestSetupErrorUnwraps(t *testing.T) {
	inner := errors.New("boom")
	err := error(&runner.SetupError{Stage: "start", Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "setup (start): boom", err.Error())
}

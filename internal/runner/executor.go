package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// TimeoutExitCode is reported for a subject killed at its time-box, as
// timeout(1) does.
const TimeoutExitCode = 124

// Invocation is one subject process to start.
type Invocation struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	Stdin   string
}

// Execution is what a finished (or killed) subject produced.
type Execution struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// Executor runs a subject. A non-zero exit is not an error. When ctx ends
// first the subject is killed and the partial Execution is returned together
// with ctx's error. Any other error means the subject could not be run.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) (*Execution, error)
}

// LocalExecutor runs the subject as a child process in its own process group.
type LocalExecutor struct {
	// Grace bounds how long output copying may continue after the subject
	// was killed.
	Grace time.Duration
}

func (e *LocalExecutor) Execute(ctx context.Context, inv Invocation) (*Execution, error) {
	cmd := exec.CommandContext(ctx, inv.Command, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), EnvList(inv.Env)...)
	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}
	var out syncBuffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	setupProcessGroup(cmd)
	cmd.WaitDelay = e.Grace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", inv.Command, err)
	}
	err := cmd.Wait()
	res := &Execution{Output: out.String(), Duration: time.Since(start)}

	if err != nil && ctx.Err() != nil {
		res.ExitCode = TimeoutExitCode
		return res, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("waiting for %s: %w", inv.Command, err)
	}
	return res, nil
}

// EnvList renders env as sorted KEY=value pairs.
func EnvList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// syncBuffer lets the stdout and stderr copiers share one buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Package docker runs subjects inside containers with the scenario's
// working directory bind-mounted at /workspace.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"

	"github.com/signalnine/gauntlet/internal/runner"
)

// Workspace is where the working directory appears inside the container.
const Workspace = "/workspace"

// Executor is a runner.Executor backed by the Docker daemon.
type Executor struct {
	Image       string
	CPULimit    float64
	MemoryLimit int64
	UserID      string
	Logger      *slog.Logger
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs inv in a fresh container that is removed afterwards. Host
// paths under inv.Dir are rewritten to Workspace in the command, arguments
// and environment.
func (e *Executor) Execute(ctx context.Context, inv runner.Invocation) (*runner.Execution, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	cmd, err := containerCommand(inv)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(inv.Env))
	for k, v := range inv.Env {
		env[k] = rewritePath(v, inv.Dir)
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: inv.Dir,
			Target: Workspace,
		}},
		Init:       &initTrue,
		ExtraHosts: []string{"host.docker.internal:host-gateway"},
	}
	if e.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(e.CPULimit * 1e9)
	}
	if e.MemoryLimit > 0 {
		hostCfg.Memory = e.MemoryLimit
	}

	containerCfg := &container.Config{
		Image:      e.Image,
		Cmd:        cmd,
		Env:        runner.EnvList(env),
		WorkingDir: Workspace,
		Tty:        true,
		Labels:     map[string]string{"gauntlet": "true"},
	}
	if e.UserID != "" {
		containerCfg.User = e.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		if _, err := cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true}); err != nil {
			e.logger().Warn("removing container", "id", containerID, "error", err)
		}
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitResult := cli.ContainerWait(ctx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err == nil {
				continue
			}
			if ctx.Err() == nil {
				return nil, fmt.Errorf("waiting for container: %w", err)
			}
			if _, kerr := cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"}); kerr != nil {
				e.logger().Warn("killing container", "id", containerID, "error", kerr)
			}
			return &runner.Execution{
				Output:   e.logs(cli, containerID),
				ExitCode: runner.TimeoutExitCode,
				Duration: time.Since(start),
			}, ctx.Err()
		case status := <-waitResult.Result:
			return &runner.Execution{
				Output:   e.logs(cli, containerID),
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
			}, nil
		}
	}
}

func (e *Executor) logs(cli *client.Client, containerID string) string {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		e.logger().Warn("reading container logs", "id", containerID, "error", err)
		return ""
	}
	defer logReader.Close()
	data, _ := io.ReadAll(logReader)
	// A TTY turns newlines into CRLF.
	return strings.ReplaceAll(string(data), "\r\n", "\n")
}

// containerCommand builds the container Cmd. Stdin is delivered through a
// file in the working directory since containers run detached.
func containerCommand(inv runner.Invocation) ([]string, error) {
	cmd := []string{rewritePath(inv.Command, inv.Dir)}
	for _, a := range inv.Args {
		cmd = append(cmd, rewritePath(a, inv.Dir))
	}
	if inv.Stdin == "" {
		return cmd, nil
	}
	stdinPath := filepath.Join(inv.Dir, runner.MetaDir, "stdin")
	if err := os.MkdirAll(filepath.Dir(stdinPath), 0o755); err != nil {
		return nil, fmt.Errorf("writing stdin file: %w", err)
	}
	if err := os.WriteFile(stdinPath, []byte(inv.Stdin), 0o644); err != nil {
		return nil, fmt.Errorf("writing stdin file: %w", err)
	}
	containerStdin := Workspace + "/" + runner.MetaDir + "/stdin"
	return append([]string{"sh", "-c", `exec "$0" "$@" < ` + containerStdin}, cmd...), nil
}

func rewritePath(s, hostDir string) string {
	if hostDir == "" {
		return s
	}
	return strings.ReplaceAll(s, hostDir, Workspace)
}

// ErrUnavailable means no Docker daemon answered.
var ErrUnavailable = errors.New("docker daemon unavailable")

// Ping checks that the daemon is reachable before a run starts.
func Ping(ctx context.Context) error {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx, client.PingOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Command claude-code runs Claude Code as a gauntlet subject. It serves the
// SDK WebSocket protocol, launches the CLI against it, feeds it the scenario
// prompt and prints a plain-text transcript on stdout.
//
// Exit status: 0 when the session succeeded, 1 when it ended in an error or
// the protocol broke down.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"nhooyr.io/websocket"
)

func main() {
	promptFile := flag.String("prompt-file", os.Getenv("GAUNTLET_PROMPT_FILE"), "path to the scenario prompt")
	claudeBin := flag.String("claude", "claude", "Claude Code binary")
	port := flag.Int("port", 0, "WebSocket server port (0 picks a free one)")
	metricsFile := flag.String("metrics-file", "", "path to write session metrics JSON")
	idleTimeout := flag.Duration("idle-timeout", 10*time.Minute, "silence before assuming the session is stuck")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *promptFile == "" {
		logger.Error("--prompt-file is required")
		os.Exit(1)
	}
	prompt, err := os.ReadFile(*promptFile)
	if err != nil {
		logger.Error("reading prompt", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(ServerOpts{
		Prompt:      string(prompt),
		Transcript:  os.Stdout,
		MetricsFile: *metricsFile,
		IdleTimeout: *idleTimeout,
		Logger:      logger,
	})
	if err := run(ctx, srv, *claudeBin, *port, flag.Args(), logger); err != nil {
		logger.Error("session failed", "error", err)
		os.Exit(1)
	}
	if srv.Failed() {
		os.Exit(1)
	}
}

func run(ctx context.Context, srv *Server, claudeBin string, port int, extraArgs []string, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	addr := listener.Addr().String()
	logger.Debug("ws-server listening", "addr", addr)

	connCh := make(chan *websocket.Conn, 1)
	httpServer := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
			if err != nil {
				logger.Warn("accept", "error", err)
				return
			}
			select {
			case connCh <- conn:
			default:
				conn.Close(websocket.StatusPolicyViolation, "only one connection allowed")
			}
		}),
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer httpServer.Close()

	cli := exec.CommandContext(ctx, claudeBin, claudeArgs("ws://"+addr, extraArgs)...)
	cli.Stdout = io.Discard
	cli.Stderr = os.Stderr
	if err := cli.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", claudeBin, err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cli.Wait() }()

	var conn *websocket.Conn
	select {
	case conn = <-connCh:
	case err := <-serveErr:
		return fmt.Errorf("http server failed: %w", err)
	case err := <-exited:
		return fmt.Errorf("%s exited before connecting: %v", claudeBin, err)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := srv.HandleConnection(ctx, conn); err != nil {
		conn.Close(websocket.StatusInternalError, "protocol error")
		return err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	select {
	case <-exited:
	case <-time.After(10 * time.Second):
		logger.Warn("claude did not exit after the session; killing it")
		cli.Process.Kill()
		<-exited
	}
	return nil
}

func claudeArgs(url string, extra []string) []string {
	args := []string{
		"--sdk-url", url,
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	return append(args, extra...)
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/docker/go-units"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/docker"
	"github.com/signalnine/gauntlet/internal/gateway"
	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/judge"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/scenario"
)

// graderEnv is what graders share for the length of one command.
type graderEnv struct {
	deps    grader.Deps
	retry   grader.RetryPolicy
	judge   string
	gateway *gateway.Gateway
}

func (e *graderEnv) Close() {
	if e.gateway != nil {
		if err := e.gateway.Stop(); err != nil {
			slog.Warn("stopping gateway", "error", err)
		}
	}
}

// newGraderEnv builds the judge client only when some scenario has a model
// grader, so purely deterministic runs need no API key.
func newGraderEnv(ctx context.Context, cfg *config.Config, scenarios []scenario.Scenario) (*graderEnv, error) {
	logger := slog.Default()
	env := &graderEnv{
		deps: grader.Deps{
			CommandTimeout: cfg.CommandTimeout,
			MaxTranscript:  cfg.Judge.MaxTranscript,
			Logger:         logger,
		},
		retry: grader.RetryPolicy{
			Attempts:   cfg.Judge.Retries + 1,
			Backoff:    cfg.Judge.Backoff,
			MaxBackoff: 30 * time.Second,
		},
	}
	if !scenario.HasKind(scenarios, scenario.KindModel) {
		return env, nil
	}

	if cfg.Secrets.EnvFile != "" {
		set, err := gateway.LoadSecrets(cfg.Secrets.EnvFile)
		if err != nil {
			logger.Warn("could not load secrets", "file", cfg.Secrets.EnvFile, "error", err)
		} else {
			logger.Debug("loaded secrets", "vars", set)
		}
	}

	table, err := pricing.Load(cfg.Judge.PricingFile)
	if err != nil {
		return nil, err
	}
	env.deps.Pricing = table

	opts := judge.Options{
		Provider:  cfg.Judge.Provider,
		BaseURL:   cfg.Judge.BaseURL,
		Model:     cfg.Judge.Model,
		APIKey:    cfg.Judge.APIKey(),
		MaxTokens: cfg.Judge.MaxTokens,
		Timeout:   cfg.Judge.Timeout,
	}
	if cfg.Judge.Gateway.Enabled {
		gw, err := gateway.Start(ctx, &gateway.StartOpts{
			Config:         cfg.Judge.Gateway.Config,
			SecretsEnvFile: cfg.Secrets.EnvFile,
			LogDir:         cfg.Judge.Gateway.LogDir,
		})
		if err != nil {
			return nil, fmt.Errorf("starting gateway: %w", err)
		}
		env.gateway = gw
		opts.BaseURL = gw.BaseURL()
		opts.OpenAICompatible = true
	} else if opts.APIKey == "" {
		logger.Warn("judge API key not set; model graders will fail", "provider", cfg.Judge.Provider)
	}

	client, err := judge.New(opts)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.deps.Judge = client
	env.judge = cfg.Judge.Provider + "/" + cfg.Judge.Model
	return env, nil
}

func newExecutor(ctx context.Context, cfg *config.Config) (runner.Executor, error) {
	if cfg.Sandbox.Kind != config.SandboxDocker {
		return &runner.LocalExecutor{Grace: cfg.Grace}, nil
	}
	mem, err := parseMemory(cfg.Sandbox.MemoryLimit)
	if err != nil {
		return nil, err
	}
	if err := docker.Ping(ctx); err != nil {
		return nil, err
	}
	user := cfg.Sandbox.User
	if user == "" {
		user = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	}
	return &docker.Executor{
		Image:       cfg.Sandbox.Image,
		CPULimit:    cfg.Sandbox.CPULimit,
		MemoryLimit: mem,
		UserID:      user,
	}, nil
}

// parseMemory accepts docker-style sizes such as "512m" or "4g".
func parseMemory(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("sandbox memory_limit: %w", err)
	}
	return n, nil
}

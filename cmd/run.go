package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/clierr"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/report"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/scenario"
)

var (
	flagIDs       []string
	flagCategory  string
	flagTrials    int
	flagParallel  int
	flagRunFormat string
	flagWatch     bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenarios-path>",
		Short: "Run scenarios against the configured agent",
		Long: `Run every scenario in a file or directory against the configured subject and
grade the transcripts. Exits 0 when every required scenario passed or was
skipped, 1 when one failed, 2 when the harness could not evaluate one, and 3
when the run could not start or was aborted.`,
		Args: cobra.ExactArgs(1),
		RunE: runScenarios,
	}
	cmd.Flags().StringSliceVar(&flagIDs, "id", nil, "only run these scenario ids")
	cmd.Flags().StringVar(&flagCategory, "category", "", "filter by category (supports prefix/*)")
	cmd.Flags().IntVar(&flagTrials, "trials", 0, "override trial count")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "max concurrent scenarios (default from config)")
	cmd.Flags().StringVar(&flagRunFormat, "format", "table", "summary format (table, markdown, json)")
	cmd.Flags().BoolVar(&flagWatch, "watch", false, "re-run when scenario files change")
	return cmd
}

func runScenarios(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagParallel > 0 {
		cfg.Parallel = flagParallel
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagWatch {
		return watch(ctx, cmd.OutOrStdout(), cfg, args[0])
	}
	rep, err := evaluatePath(ctx, cmd.OutOrStdout(), cfg, args[0])
	if err != nil {
		return err
	}
	return exitFor(rep)
}

func evaluatePath(ctx context.Context, out io.Writer, cfg *config.Config, path string) (*report.RunReport, error) {
	scenarios, err := scenario.Load(path)
	if err != nil {
		return nil, clierr.Wrap(clierr.ExitFatal, "loading scenarios", err)
	}
	selected := scenario.Filter(scenarios, flagIDs, flagCategory)
	if len(selected) == 0 {
		return nil, clierr.Newf(clierr.ExitFatal, "no scenarios in %s match the filters", path)
	}
	return evaluate(ctx, out, cfg, selected, path)
}

// evaluate runs every trial of every scenario on the worker pool, stores the
// results and prints the summary.
func evaluate(ctx context.Context, out io.Writer, cfg *config.Config, scenarios []scenario.Scenario, source string) (*report.RunReport, error) {
	executor, err := newExecutor(ctx, cfg)
	if err != nil {
		return nil, clierr.Wrap(clierr.ExitFatal, "preparing sandbox", err)
	}
	env, err := newGraderEnv(ctx, cfg, scenarios)
	if err != nil {
		return nil, clierr.Wrap(clierr.ExitFatal, "preparing judge", err)
	}
	defer env.Close()

	runID := result.NewRunID()
	runDir, err := result.CreateRunDir(cfg.Results.Dir, runID)
	if err != nil {
		return nil, clierr.Wrap(clierr.ExitFatal, "creating run directory", err)
	}
	info := &result.RunInfo{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Source:    absPath(source),
		Subject:   cfg.Subject.Command,
		Sandbox:   cfg.Sandbox.Kind,
		Judge:     env.judge,
	}
	if err := result.WriteRunInfo(runDir, info); err != nil {
		return nil, clierr.Wrap(clierr.ExitFatal, "writing run info", err)
	}
	fmt.Fprintf(out, "Run directory: %s\n", runDir)

	var (
		mu      sync.Mutex
		results []result.ScenarioResult
		jobs    []runner.Job
	)
	for i := range scenarios {
		sc := &scenarios[i]
		n := trialsFor(sc, cfg.Trials, flagTrials)
		for trial := 1; trial <= n; trial++ {
			jobs = append(jobs, func(ctx context.Context) error {
				slog.Info("running scenario", "scenario", sc.ID, "trial", fmt.Sprintf("%d/%d", trial, n))
				res, err := runner.RunScenario(ctx, &runner.TrialOpts{
					Scenario:     sc,
					Trial:        trial,
					RunID:        runID,
					RunDir:       runDir,
					TempRoot:     cfg.TempRoot,
					Subject:      cfg.Subject,
					Timebox:      cfg.DefaultTimebox,
					Executor:     executor,
					Graders:      env.deps,
					Retry:        env.retry,
					GradeTimeout: cfg.GradeTimeout,
				})
				if res != nil {
					mu.Lock()
					results = append(results, *res)
					mu.Unlock()
				}
				return err
			})
		}
	}
	var exhausted error
	for _, err := range runner.RunPool(ctx, cfg.Parallel, jobs) {
		slog.Error("scenario aborted", "error", err)
		if errors.Is(err, runner.ErrExhausted) {
			exhausted = err
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Scenario != results[j].Scenario {
			return results[i].Scenario < results[j].Scenario
		}
		return results[i].Trial < results[j].Trial
	})
	rep := report.Aggregate(results)
	rep.RunID = runID
	if err := writeReportFile(runDir, rep); err != nil {
		slog.Warn("writing report.json", "error", err)
	}

	fmt.Fprintln(out, "\n--- Results ---")
	if err := report.Write(rep, flagRunFormat, out); err != nil {
		return nil, err
	}

	if exhausted != nil {
		return rep, clierr.Wrap(clierr.ExitFatal, "run aborted", exhausted)
	}
	if ctx.Err() != nil {
		return rep, clierr.New(clierr.ExitFatal, "run interrupted")
	}
	return rep, nil
}

// watch re-runs the scenarios whenever their files change, until ctx ends.
func watch(ctx context.Context, out io.Writer, cfg *config.Config, path string) error {
	changed := make(chan struct{}, 1)
	w := scenario.NewWatcher(path, 500*time.Millisecond, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}, slog.Default())
	watchErr := make(chan error, 1)
	go func() { watchErr <- w.Watch(ctx) }()

	for {
		if _, err := evaluatePath(ctx, out, cfg, path); err != nil && ctx.Err() == nil {
			slog.Error("run failed", "error", err)
		}
		fmt.Fprintf(out, "\nWatching %s for changes (Ctrl-C to stop)...\n", path)
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchErr:
			if ctx.Err() != nil {
				return nil
			}
			return clierr.Wrap(clierr.ExitFatal, "watching scenarios", err)
		case <-changed:
			slog.Info("scenario files changed; re-running")
		}
	}
}

func trialsFor(sc *scenario.Scenario, configured, override int) int {
	switch {
	case override > 0:
		return override
	case sc.Trials > 0:
		return sc.Trials
	case configured > 0:
		return configured
	}
	return 1
}

// exitFor maps a finished run to the process exit code.
func exitFor(rep *report.RunReport) error {
	switch {
	case rep.BlockingFailures > 0:
		return clierr.Newf(clierr.ExitFailed, "%d required scenario(s) failed", rep.BlockingFailures)
	case rep.BlockingErrors > 0:
		return clierr.Newf(clierr.ExitHarness, "%d required scenario(s) could not be evaluated", rep.BlockingErrors)
	}
	return nil
}

func writeReportFile(runDir string, rep *report.RunReport) error {
	f, err := os.Create(filepath.Join(runDir, "report.json"))
	if err != nil {
		return err
	}
	if err := report.Write(rep, "json", f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

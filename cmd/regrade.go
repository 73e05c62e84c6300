package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/clierr"
	"github.com/signalnine/gauntlet/internal/report"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/scenario"
)

func newRegradeCmd() *cobra.Command {
	var scenariosPath string
	cmd := &cobra.Command{
		Use:   "regrade [run-dir]",
		Short: "Re-run graders over stored transcripts",
		Long: `Walk a run directory and grade each stored transcript again with the current
scenario definitions, updating result.json and report.json. File and command
graders keep their stored outcome since the working directory is gone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runDir, err := resolveRunDir(cmd, args)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stored, err := result.CollectResults(runDir)
			if err != nil {
				return clierr.Wrap(clierr.ExitFatal, "reading results", err)
			}
			if scenariosPath == "" {
				info, err := result.ReadRunInfo(runDir)
				if err != nil {
					return clierr.Wrap(clierr.ExitFatal, "no --scenarios given and run info unreadable", err)
				}
				scenariosPath = info.Source
			}
			scenarios, err := scenario.Load(scenariosPath)
			if err != nil {
				return clierr.Wrap(clierr.ExitFatal, "loading scenarios", err)
			}
			byID := make(map[string]*scenario.Scenario, len(scenarios))
			for i := range scenarios {
				byID[scenarios[i].ID] = &scenarios[i]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			env, err := newGraderEnv(ctx, cfg, scenarios)
			if err != nil {
				return clierr.Wrap(clierr.ExitFatal, "preparing judge", err)
			}
			defer env.Close()

			out := cmd.OutOrStdout()
			results := make([]result.ScenarioResult, 0, len(stored))
			for _, s := range stored {
				prev := s.Result
				sc, ok := byID[prev.Scenario]
				if !ok || !runner.Regradable(prev) {
					if !ok {
						slog.Warn("scenario no longer defined; keeping stored result", "scenario", prev.Scenario)
					}
					results = append(results, *prev)
					continue
				}
				res, err := runner.Regrade(ctx, &runner.RegradeOpts{
					Scenario: sc,
					Stored:   s,
					Graders:  env.deps,
					Retry:    env.retry,
				})
				if err != nil {
					if ctx.Err() != nil {
						return clierr.New(clierr.ExitFatal, "regrade interrupted")
					}
					slog.Warn("regrading failed; keeping stored result", "scenario", prev.Scenario, "trial", prev.Trial, "error", err)
					results = append(results, *prev)
					continue
				}
				if err := result.WriteScenarioResult(s.Dir, res); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (trial %d): %s %.1f -> %s %.1f\n", prev.Scenario, prev.Trial, prev.Status, prev.Score, res.Status, res.Score)
				results = append(results, *res)
			}

			rep := report.Aggregate(results)
			if info, err := result.ReadRunInfo(runDir); err == nil {
				rep.RunID = info.RunID
			}
			if err := writeReportFile(runDir, rep); err != nil {
				slog.Warn("writing report.json", "error", err)
			}
			fmt.Fprintln(out, "\n--- Results ---")
			if err := report.Write(rep, "table", out); err != nil {
				return err
			}
			return exitFor(rep)
		},
	}
	cmd.Flags().StringVar(&scenariosPath, "scenarios", "", "scenario file or directory (default: the run's source)")
	return cmd
}

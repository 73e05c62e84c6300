package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/clierr"
	"github.com/signalnine/gauntlet/internal/grader"
	"github.com/signalnine/gauntlet/internal/scenario"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenarios-path>",
		Short: "Check scenario files without running anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := scenario.Files(args[0])
			if err != nil {
				return clierr.Wrap(clierr.ExitFailed, "invalid scenarios", err)
			}
			scenarios, err := scenario.Load(args[0])
			if err != nil {
				return clierr.Wrap(clierr.ExitFailed, "invalid scenarios", err)
			}
			for i := range scenarios {
				sc := &scenarios[i]
				if _, err := grader.BuildAll(sc.Graders, grader.Deps{}); err != nil {
					return clierr.Wrap(clierr.ExitFailed, "invalid scenarios", fmt.Errorf("%s: scenario %q: %w", sc.Source, sc.ID, err))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d scenario(s) in %d file(s) OK\n", len(scenarios), len(files))
			return nil
		},
	}
}

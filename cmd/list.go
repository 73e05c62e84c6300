package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/scenario"
)

func newListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list <scenarios-path>",
		Short: "List scenarios with their category and graders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := scenario.Load(args[0])
			if err != nil {
				return err
			}
			scenarios = scenario.Filter(scenarios, nil, category)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tPRESSURE\tGRADERS\t")
			for _, sc := range scenarios {
				var kinds []string
				for _, g := range sc.Graders {
					name := g.Kind
					if g.Advisory {
						name += "?"
					}
					kinds = append(kinds, name)
				}
				id := sc.ID
				if sc.Advisory {
					id += " (advisory)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", id, sc.Category, orDash(sc.Pressure), strings.Join(kinds, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d scenario(s)\n", len(scenarios))
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category (supports prefix/*)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

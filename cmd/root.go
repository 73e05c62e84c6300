package cmd

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/clierr"
	"github.com/signalnine/gauntlet/internal/config"
)

var (
	cfgFile string
	verbose bool
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gauntlet",
		Short:         "Behavioral evaluation harness for AI coding agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), verbose)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultFile, "config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(newRunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newRegradeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func setupLogging(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig reads --config. The default path may be absent.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, clierr.Wrap(clierr.ExitFatal, "loading config", err)
	}
	return cfg, nil
}

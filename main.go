package main

import (
	"fmt"
	"os"

	"github.com/signalnine/gauntlet/cmd"
	"github.com/signalnine/gauntlet/internal/clierr"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gauntlet:", err)
		os.Exit(clierr.ExitCodeOf(err))
	}
}

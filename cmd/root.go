// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rulerun-org/rulerun/internal/paths"
	"github.com/rulerun-org/rulerun/internal/scheduler"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Exit codes form the scripting contract: 0 success, 1 job failure,
// 2 rulefile or graph error, 3 resource budget refusal.
const (
	exitOK        = 0
	exitJobFailed = 1
	exitBadRules  = 2
	exitExhausted = 3
)

var rootCmd = &cobra.Command{
	Use:           "rulr",
	Short:         "Rule-based build runner rulr",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if dataDir := os.Getenv("RULERUN_DATA_DIR"); dataDir != "" {
		paths.SetDataDirOverride(dataDir)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newValidateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var exhausted *scheduler.ResourceExhaustedError
	var runFailed *scheduler.RunFailedError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &exhausted):
		return exitExhausted
	case errors.As(err, &runFailed), errors.Is(err, context.Canceled):
		return exitJobFailed
	default:
		return exitBadRules
	}
}

func addRulefileFlags(fs *pflag.FlagSet, dir, path *string) {
	fs.StringVarP(dir, "dir", "C", ".", "Working directory declared paths resolve against")
	fs.StringVarP(path, "rulefile", "f", "", "Rulefile path (default <dir>/rules.yaml)")
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rulerun-org/rulerun/internal/engine"
	"github.com/rulerun-org/rulerun/internal/events"
	"github.com/rulerun-org/rulerun/internal/runlog"
	"github.com/rulerun-org/rulerun/internal/scheduler"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		dir         string
		rulefile    string
		budgetPairs []string
		cores       int64
		dryRun      bool
		forceAll    bool
		keepTemp    bool
		jsonEvents  bool
		quiet       bool
		noHistory   bool
	)
	c := &cobra.Command{
		Use:   "run [targets...]",
		Short: "Build targets (default: the rulefile's default_targets)",
		RunE: func(cmd *cobra.Command, args []string) error {
			budget, err := scheduler.ParseBudget(budgetPairs)
			if err != nil {
				return err
			}
			if cores > 0 {
				budget["tasks"] = cores
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			verbosity, _ := cmd.Flags().GetCount("verbose")
			var consoleEmitter events.Sink
			if verbosity > 0 || jsonEvents {
				consoleEmitter = events.NewEmitter(os.Stdout, jsonEvents)
			}
			sink := events.NewCompositeSink(consoleEmitter)

			var store *runlog.Store
			if !dryRun && !noHistory {
				db, err := runlog.Open(ctx, runlog.Options{})
				if err != nil {
					fmt.Fprintf(os.Stderr, "warning: run history disabled: %v\n", err)
				} else {
					defer db.Close()
					store = runlog.NewStore(db)
				}
			}

			stdout := io.Writer(os.Stdout)
			stderr := io.Writer(os.Stderr)
			if quiet || jsonEvents {
				stdout = nil
				stderr = nil
			}

			report, err := engine.Run(ctx, engine.Options{
				Dir:          dir,
				RulefilePath: rulefile,
				Targets:      args,
				Budget:       budget,
				DryRun:       dryRun,
				ForceAll:     forceAll,
				KeepTemp:     keepTemp,
				Sink:         sink,
				Store:        store,
				Logger:       slog.Default(),
				Stdout:       stdout,
				Stderr:       stderr,
			})
			if err != nil {
				if report != nil {
					printSummary(cmd.ErrOrStderr(), report, dryRun)
				}
				return err
			}
			if !jsonEvents {
				printSummary(cmd.OutOrStdout(), report, dryRun)
			}
			return nil
		},
	}
	addRulefileFlags(c.Flags(), &dir, &rulefile)
	c.Flags().StringArrayVar(&budgetPairs, "budget", nil, "Resource budget as key=value (repeatable)")
	c.Flags().Int64VarP(&cores, "cores", "j", 0, "Shorthand for --budget tasks=N")
	c.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Plan only, execute nothing")
	c.Flags().BoolVar(&forceAll, "force-all", false, "Re-run every job regardless of staleness")
	c.Flags().BoolVar(&keepTemp, "keep-temp", false, "Retain outputs flagged temporary")
	c.Flags().BoolVar(&jsonEvents, "json", false, "Emit the event stream as JSON lines")
	c.Flags().CountP("verbose", "v", "Emit the event stream to stdout")
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress job stdout/stderr")
	c.Flags().BoolVar(&noHistory, "no-history", false, "Skip recording this run in the run log")
	return c
}

func printSummary(out io.Writer, report *engine.Report, dryRun bool) {
	verb := "executed"
	if dryRun {
		verb = "to run"
	}
	fmt.Fprintf(out, "run %s: %d %s, %d up to date", report.RunID, report.Executed, verb, report.Cached)
	if report.Failed > 0 || report.Skipped > 0 {
		fmt.Fprintf(out, ", %d failed, %d skipped", report.Failed, report.Skipped)
	}
	if len(report.DeletedArtifacts) > 0 {
		fmt.Fprintf(out, ", %d temporary artifact(s) removed", len(report.DeletedArtifacts))
	}
	fmt.Fprintln(out)
}

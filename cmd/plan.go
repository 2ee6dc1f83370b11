// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rulerun-org/rulerun/internal/engine"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var (
		dir      string
		rulefile string
		asJSON   bool
		forceAll bool
	)
	c := &cobra.Command{
		Use:   "plan [targets...]",
		Short: "Preview the job graph for targets (no execution)",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := engine.Run(cmd.Context(), engine.Options{
				Dir:          dir,
				RulefilePath: rulefile,
				Targets:      args,
				DryRun:       true,
				ForceAll:     forceAll,
			})
			if err != nil {
				return err
			}
			plan := engine.BuildPlan(report)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "targets: %s\n", strings.Join(plan.Targets, " "))
			for i, job := range plan.Jobs {
				marker := "run"
				if !job.WillRun {
					marker = "up to date"
				}
				fmt.Fprintf(out, "%3d. %-20s [%s]", i+1, job.Rule, marker)
				if len(job.Outputs) > 0 {
					fmt.Fprintf(out, " -> %s", strings.Join(job.Outputs, " "))
				}
				if len(job.Temporary) > 0 {
					fmt.Fprintf(out, " (temporary: %s)", strings.Join(job.Temporary, " "))
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "%d to run, %d up to date\n", plan.ToRun, plan.Cached)
			return nil
		},
	}
	addRulefileFlags(c.Flags(), &dir, &rulefile)
	c.Flags().BoolVar(&asJSON, "json", false, "Print the plan as JSON")
	c.Flags().BoolVar(&forceAll, "force-all", false, "Plan as if every job were stale")
	return c
}

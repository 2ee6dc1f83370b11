// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rulerun-org/rulerun/internal/runlog"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
		runID  string
	)
	c := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := runlog.Open(cmd.Context(), runlog.Options{})
			if err != nil {
				return err
			}
			defer db.Close()
			store := runlog.NewStore(db)

			if runID != "" {
				jobs, err := store.RunJobs(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(jobs)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RULE\tSTATUS\tEXIT\tFINISHED")
				for _, job := range jobs {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
						job.Rule, job.Status, job.ExitCode, job.FinishedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			}

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tEXECUTED\tCACHED\tFAILED\tSKIPPED\tTARGETS")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					run.RunID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"),
					run.Executed, run.Cached, run.Failed, run.Skipped,
					strings.Join(run.Targets, " "))
			}
			return w.Flush()
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	c.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	c.Flags().StringVar(&runID, "run", "", "Show per-job results for one run")
	return c
}

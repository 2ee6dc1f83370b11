// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"

	"github.com/rulerun-org/rulerun/internal/engine"
	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var (
		dir      string
		rulefile string
		quiet    bool
	)
	c := &cobra.Command{
		Use:   "clean",
		Short: "Remove every output declared in the rulefile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := engine.Clean(dir, rulefile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !quiet {
				for _, path := range removed {
					fmt.Fprintf(out, "removed %s\n", path)
				}
			}
			fmt.Fprintf(out, "%d artifact(s) removed\n", len(removed))
			return nil
		},
	}
	addRulefileFlags(c.Flags(), &dir, &rulefile)
	c.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the final count")
	return c
}

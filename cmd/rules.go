// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rulerun-org/rulerun/internal/engine"
	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	var (
		dir      string
		rulefile string
		asJSON   bool
	)
	c := &cobra.Command{
		Use:   "rules",
		Short: "List registered rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := engine.LoadRegistry(dir, rulefile)
			if err != nil {
				return err
			}
			rules := reg.Rules()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rules)
			}

			out := cmd.OutOrStdout()
			for _, rule := range rules {
				fmt.Fprintf(out, "%s:", rule.Name)
				if len(rule.Inputs) > 0 {
					fmt.Fprintf(out, " %s", strings.Join(rule.Inputs, " "))
				}
				outputs := rule.OutputPaths()
				if len(outputs) > 0 {
					fmt.Fprintf(out, " -> %s", strings.Join(outputs, " "))
				}
				if len(rule.Modules) > 0 {
					fmt.Fprintf(out, " (modules: %s)", strings.Join(rule.Modules, ", "))
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	addRulefileFlags(c.Flags(), &dir, &rulefile)
	c.Flags().BoolVar(&asJSON, "json", false, "Print rules as JSON")
	return c
}

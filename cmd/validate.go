// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/rulerun-org/rulerun/internal/rulefile"
	"github.com/rulerun-org/rulerun/internal/schema"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var (
		dir  string
		path string
	)
	c := &cobra.Command{
		Use:   "validate",
		Short: "Check a rulefile for structural and semantic errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = filepath.Join(dir, rulefile.DefaultName)
			}

			validator, err := schema.NewValidator()
			if err != nil {
				return err
			}
			if err := validator.ValidateFile(path); err != nil {
				return err
			}

			// The structural pass caught shape errors; the load pass catches
			// duplicate outputs and other semantic defects.
			if _, _, err := rulefile.Load(path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			return nil
		},
	}
	addRulefileFlags(c.Flags(), &dir, &path)
	return c
}

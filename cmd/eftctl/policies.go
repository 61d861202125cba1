package main

import (
	"github.com/spf13/cobra"
)

func newPoliciesCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "Print the active requirement table as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.engine()
			if err != nil {
				return err
			}
			b, err := engine.Table().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

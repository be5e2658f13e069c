package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBootstrapCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Prepare the course clone, SSH identity and git config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := g.client()
			if err != nil {
				return err
			}
			root, err := newBootstrapper(g, api).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), root)
			return nil
		},
	}
}

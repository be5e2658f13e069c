package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSyncCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Merge the upstream branch into main once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := g.client()
			if err != nil {
				return err
			}
			res, err := newEngine(g, api).SyncOnce(cmd.Context())
			out := cmd.OutOrStdout()
			if res.Root != "" {
				fmt.Fprintf(out, "%s: %s\n", res.Root, res.State)
			}
			if len(res.Conflicts) > 0 {
				fmt.Fprintf(out, "conflicts:\n  %s\n", strings.Join(res.Conflicts, "\n  "))
			}
			return err
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/submit"
)

func newSubmitCmd(g *globalOptions) *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "submit [path]",
		Short: "Commit and push the assignment containing path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if summary == "" {
				return fmt.Errorf("a summary is required (-m)")
			}
			path, err := pathArg(args)
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			s, err := newSubmitter(g, api)
			if err != nil {
				return err
			}

			res, err := s.Submit(cmd.Context(), submit.Request{Path: path, Summary: summary})
			out := cmd.OutOrStdout()
			var hook *submit.HookRejectedError
			if errors.As(err, &hook) {
				fmt.Fprintln(out, "push rejected by the server:")
				for _, r := range hook.Reasons {
					fmt.Fprintf(out, "  %s\n", r)
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "[%s %s] %s\n", res.Assignment.Name, shortID(res.CommitID), summary)
			return nil
		},
	}
	cmd.Flags().StringVarP(&summary, "message", "m", "", "commit summary")
	return cmd
}

func pathArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return os.Getwd()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

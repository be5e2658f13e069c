package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helxplatform/eduhelx-jupyterlab-prof-ext/pkg/classrepo"
)

func newResolveCmd(g *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve [path]",
		Short: "Show the class repository and assignment containing path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := pathArg(args)
			if err != nil {
				return err
			}
			api, err := g.client()
			if err != nil {
				return err
			}
			c, err := api.Course(ctx)
			if err != nil {
				return err
			}
			assignments, err := api.Assignments(ctx)
			if err != nil {
				return err
			}
			repo, err := classrepo.Resolve(ctx, c, path)
			if err != nil {
				return err
			}
			annotated, err := repo.Annotate(ctx, assignments, repo.Root)
			if err != nil {
				return err
			}

			var current *classrepo.AnnotatedAssignment
			a, err := repo.CurrentAssignment(assignments, path)
			switch {
			case err == nil:
				for i := range annotated {
					if annotated[i].ID == a.ID {
						current = &annotated[i]
					}
				}
			case !errors.Is(err, classrepo.ErrNoCurrentAssignment):
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Root              string                          `json:"root"`
					CurrentAssignment *classrepo.AnnotatedAssignment  `json:"current_assignment"`
					Assignments       []classrepo.AnnotatedAssignment `json:"assignments"`
				}{repo.Root, current, annotated})
			}

			fmt.Fprintf(out, "repository: %s\n", repo.Root)
			if current == nil {
				fmt.Fprintln(out, "assignment: none")
				return nil
			}
			fmt.Fprintf(out, "assignment: %s (%s)\n", current.Name, current.DirectoryPath)
			for _, ch := range current.StagedChanges {
				fmt.Fprintf(out, "  %2s %s\n", ch.ModificationType, ch.PathFromAssignment)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsloop/internal/directive"
)

func (a *app) dispatchCmd() *cobra.Command {
	var opts directive.ExecuteOptions
	cmd := &cobra.Command{
		Use:   "dispatch <directive>",
		Short: "Plan, critique and execute a natural-language directive",
		Long: `Select the best matching tool for a directive, check the plan, and run
its script. Runs are dry unless --live is given.

Example:
  opsloop dispatch "find plumber leads in Nantes" --live`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			out, err := a.registry.Dispatcher().Run(cmd.Context(), text, opts)
			if err != nil {
				return err
			}
			if perr := a.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "tool: %s (score %d)\n", out.Plan.Tool.ID, out.Plan.Score)
				for k, v := range out.Plan.Params {
					fmt.Fprintf(w, "  %s=%s\n", k, v)
				}
				if !out.Critique.Valid {
					fmt.Fprintf(w, "rejected: %s\n", strings.Join(out.Critique.Issues, "; "))
					return
				}
				fmt.Fprintf(w, "%s run: success=%t exit=%d\n", out.Result.Mode, out.Result.Success, out.Result.ExitCode)
				if out.Result.ArtifactPath != "" {
					fmt.Fprintf(w, "artifact: %s\n", out.Result.ArtifactPath)
				}
			}); perr != nil {
				return perr
			}

			switch {
			case !out.Critique.Valid:
				return fmt.Errorf("plan rejected: %s", strings.Join(out.Critique.Issues, "; "))
			case out.Result != nil && !out.Result.Success:
				return fmt.Errorf("directive failed: %s", out.Result.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Live, "live", false, "execute the tool script")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session receiving the execution event")
	return cmd
}

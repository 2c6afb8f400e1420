package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
)

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Recompute sector trends and self-heal rules from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.registry.Rules().Analyze(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "%d events; %d rules (%d added, %d reinforced, %d pruned)\n",
					res.Events, len(res.Rules), res.Added, res.Reinforced, res.Pruned)
				for _, s := range selfheal.Sectors() {
					t := res.Trends[s]
					fmt.Fprintf(w, "  %-6s %-9s failures=%d confidence=%.2f\n", s, t.Trend, res.Failures[s], t.Confidence)
				}
			})
		},
	}
}

func (a *app) instructionsCmd() *cobra.Command {
	var minConfidence float64
	cmd := &cobra.Command{
		Use:         "instructions <sector>",
		Annotations: readOnly(),
		Short:       "Print the live self-heal instructions for a sector",
		Args:        cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sector := selfheal.Sector(args[0])
			known := false
			for _, s := range selfheal.Sectors() {
				known = known || s == sector
			}
			if !known {
				return fmt.Errorf("unknown sector %q (want one of %v)", args[0], selfheal.Sectors())
			}
			out, err := a.registry.Rules().Instructions(cmd.Context(), sector, minConfidence)
			if err != nil {
				return err
			}
			if out == nil {
				out = []string{}
			}
			return a.print(out, func(w io.Writer) {
				for _, line := range out {
					fmt.Fprintln(w, line)
				}
			})
		},
	}
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "minimum rule confidence")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsloop/internal/extraction"
	"github.com/fyrsmithlabs/opsloop/internal/validation"
)

func (a *app) processSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-session <session-id>",
		Short: "Extract candidate facts from a session into the review queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.registry.ProcessSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "session %s: %d facts extracted, %d queued\n", res.SessionID, res.Extracted, res.Queued)
			})
		},
	}
}

func (a *app) queueCmd() *cobra.Command {
	var (
		pending bool
		status  string
	)
	cmd := &cobra.Command{
		Use:         "queue",
		Annotations: readOnly(),
		Short:       "List live review queue entries",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pending {
				status = extraction.StatusPending
			}
			if status != "" && !validation.ValidStatus(status) {
				return fmt.Errorf("%w: %q", validation.ErrInvalidStatus, status)
			}
			entries, err := a.registry.Queue().List(cmd.Context(), status)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []validation.Entry{}
			}
			return a.print(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "queue is empty")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCONF\tFACT")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", e.ID, e.Type, e.Status, e.Confidence, extraction.Truncate(e.Fact(), 80))
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only pending entries")
	cmd.Flags().StringVar(&status, "status", "", "only entries with this status")
	return cmd
}

func (a *app) reviewCmd() *cobra.Command {
	var review validation.Review
	cmd := &cobra.Command{
		Use:   "review <fact-id> <status>",
		Short: "Set the review status of a queue entry",
		Long: `Set the review status of a queue entry: pending, approved, rejected,
modified, or any other reviewer label such as needs_expert. Only approved
entries are injected; pass --fact to replace the fact text that will be
injected. Modified entries stay live until they are approved.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := a.registry.Queue().SetStatus(cmd.Context(), args[0], args[1], review)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no live queue entry %s", args[0])
			}
			return a.print(map[string]string{"id": args[0], "status": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s -> %s\n", args[0], args[1])
			})
		},
	}
	cmd.Flags().StringVar(&review.ReviewedBy, "by", "", "reviewer name")
	cmd.Flags().StringVar(&review.ModifiedFact, "fact", "", "replacement fact text")
	return cmd
}

func (a *app) archiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Move decided queue entries to the dated archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.registry.Queue().Archive(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "archived %d, kept %d pending, %d live\n", res.Archived, res.KeptPending, res.KeptLive)
				if res.File != "" {
					fmt.Fprintf(w, "archive: %s\n", res.File)
				}
			})
		},
	}
}

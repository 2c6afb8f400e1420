package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsloop/internal/knowledge"
	"github.com/fyrsmithlabs/opsloop/internal/services"
)

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "health",
		Annotations: readOnly(),
		Short:       "Check that every store is readable",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h := a.registry.Health(cmd.Context())
			err := a.print(h, func(w io.Writer) {
				fmt.Fprintf(w, "status: %s (data dir %s)\n", h.Status, h.DataDir)
				for _, name := range []string{"sessions", "queue", "knowledge", "rules"} {
					fmt.Fprintf(w, "  %-10s %s\n", name, h.Components[name])
				}
				fmt.Fprintf(w, "sessions: %d  pending: %d  kb chunks: %d  active rules: %d\n",
					h.Counts.Sessions, h.Counts.Pending, h.Counts.KBChunks, h.Counts.ActiveRules)
			})
			if err != nil {
				return err
			}
			if h.Status != services.StatusHealthy {
				return fmt.Errorf("stores are %s", h.Status)
			}
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "stats",
		Annotations: readOnly(),
		Short:       "Show queue, knowledge base and rule statistics",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.registry.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(st, func(w io.Writer) {
				fmt.Fprintf(w, "sessions:        %d\n", st.Sessions)
				fmt.Fprintf(w, "queue entries:   %d (injected %d, corrupt lines %d)\n", st.Queue.Total, st.Queue.Injected, st.Queue.Corrupt)
				for status, n := range st.Queue.ByStatus {
					fmt.Fprintf(w, "  %-12s %d\n", status, n)
				}
				fmt.Fprintf(w, "kb chunks:       %d (learned %d, %.0f%%)\n", st.Knowledge.TotalChunks, st.Knowledge.LearnedChunks, st.Knowledge.LearnedRatio*100)
				fmt.Fprintf(w, "kb versions:     %d\n", st.Knowledge.Versions)
				fmt.Fprintf(w, "active rules:    %d\n", st.ActiveRules)
			})
		},
	}
}

func (a *app) versionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "versions",
		Annotations: readOnly(),
		Short:       "List knowledge base snapshots, newest first",
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			versions, err := a.registry.Knowledge().ListVersions(cmd.Context())
			if err != nil {
				return err
			}
			if versions == nil {
				versions = []knowledge.VersionInfo{}
			}
			return a.print(versions, func(w io.Writer) {
				if len(versions) == 0 {
					fmt.Fprintln(w, "no snapshots")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "FILE\tTIMESTAMP\tREASON\tCHUNKS")
				for _, v := range versions {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", v.File, v.Timestamp.Format("2006-01-02 15:04:05"), v.Reason, v.ChunkCount)
				}
				_ = tw.Flush()
			})
		},
	}
}

func (a *app) processApprovedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-approved",
		Short: "Inject approved facts into the knowledge base",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.registry.Knowledge().ProcessApproved(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "injected %d, skipped %d duplicates, %d below threshold, %d deferred; %d chunks total\n",
					res.Processed, res.Skipped, res.BelowThreshold, res.Deferred, res.TotalChunks)
				if res.Backup != "" {
					fmt.Fprintf(w, "backup: %s\n", res.Backup)
				}
			})
		},
	}
}

func (a *app) rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <version-file>",
		Short: "Restore the knowledge base from a snapshot",
		Long: `Restore the knowledge base chunk list from a snapshot in the versions
directory. The current state is snapshotted first.

Example:
  opsloop rollback kb_20260101T120000.000000000Z.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.registry.Knowledge().Rollback(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(res, func(w io.Writer) {
				fmt.Fprintf(w, "restored %d chunks from %s\nbackup: %s\n",
					res.Restored, res.SnapshotTimestamp.Format("2006-01-02 15:04:05"), res.Backup)
			})
		},
	}
}

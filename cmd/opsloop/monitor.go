package main

import (
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsloop/internal/monitor"
)

func (a *app) monitorCmd() *cobra.Command {
	var (
		addr     string
		interval time.Duration
		once     bool
	)
	cmd := &cobra.Command{
		Use:         "monitor",
		Annotations: readOnly(),
		Short:       "Live dashboard of a running opsloopd",
		Long: `monitor polls the daemon's /health and /api/v1/stats endpoints and
draws queue, knowledge base and rule trends. With --once it prints a
single snapshot and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.registry.Config().Server.MetricsAddr
			}
			client := monitor.NewClient(addr)

			if once {
				snap, err := client.Fetch(cmd.Context())
				if err != nil {
					return err
				}
				view := monitor.Render(snap, interval)
				return a.print(snap, func(w io.Writer) {
					fmt.Fprintln(w, view)
				})
			}

			p := tea.NewProgram(monitor.NewModel(client, interval),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
				tea.WithOutput(a.out))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "daemon address (default server.metrics_addr)")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	cmd.Flags().BoolVar(&once, "once", false, "print one snapshot and exit")
	return cmd
}

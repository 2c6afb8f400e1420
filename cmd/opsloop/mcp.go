package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/opsloop/internal/mcp"
)

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the opsloop tools to agents over MCP stdio",
		Long: `mcp runs a Model Context Protocol server on stdin/stdout so agents can
log session events, review queued facts, record failure events and read
self-heal instructions. Directives can be planned but not executed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := mcp.NewServer(a.registry, &mcp.Config{
				Name:    "opsloop",
				Version: version,
				Logger:  a.logger.Underlying().Named("mcp"),
			})
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}

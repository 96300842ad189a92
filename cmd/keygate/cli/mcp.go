package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	kmcp "github.com/toolboxhq/keygate/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		readOnly  bool
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes license verification,
gate checks and statistics as tools for AI agents. Supports stdio (default) and
HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with desktop MCP clients. With --read-only the
issue and revoke tools are not registered.`,
		Example: `  keygate mcp                              # stdio mode
  keygate mcp --transport http --port 3001   # streamable HTTP mode
  keygate mcp --read-only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			store, err := openStore(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := kmcp.NewMCPServer(store, serviceOptions(logger), kmcp.Config{
				Version:  versionString(),
				ReadOnly: readOnly,
			}, logger)

			switch transport {
			case "stdio":
				return srv.ServeStdio()
			case "http":
				addr := fmt.Sprintf(":%d", port)
				logger.Info("starting MCP HTTP server", "addr", addr)
				return srv.ServeHTTP(addr)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "Expose only non-mutating tools")

	return cmd
}

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	kmcp "github.com/faucetdb/kevd/internal/mcp"
	"github.com/faucetdb/kevd/internal/service"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes KEV catalog lookups
and refresh as tools for AI agents. Supports stdio (default) and HTTP transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for agents that launch kevd as a subprocess. Logs go to stderr.

In HTTP mode every request must carry a valid API key and application name,
exactly like the REST API.`,
		Example: `  kevd mcp                               # stdio mode
  kevd mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			loader, err := a.loader()
			if err != nil {
				return err
			}
			srv := kmcp.NewMCPServer(a.catalog(), loader, versionString(), a.logger)

			switch transport {
			case "stdio":
				return srv.ServeStdio()
			case "http":
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return srv.ListenAndServeHTTP(ctx, fmt.Sprintf(":%d", port),
					service.NewAuthService(a.store), a.cfg.Server.MaxBodySize)
			default:
				return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
			}
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

// Command aoma-mcp-server runs the MCP tool server: it validates the
// environment, builds upstream clients, and serves the HTTP transport
// (plus the stdio transport outside production) until a termination
// signal arrives. Grounded on the
// teacher's cobra root-command shape in cmd/agentcli/cmd/root.go.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aoma-mesh/mcp-server/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "aoma-mcp-server",
	Short: "MCP tool server for the AOMA knowledge corpus",
	Long: `aoma-mcp-server exposes retrieval and analytical tools over stdio JSON-RPC
and HTTP, backed by a hosted LLM assistant and a Postgres+pgvector database.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(buildVersion)
	},
}

// buildVersion is overridden by the environment's validated build tag
// once the server starts; it defaults to "dev" for the bare version
// subcommand.
var buildVersion = "dev"

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	srv, err := server.Build(ctx)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	buildVersion = srv.Env.BuildVersion
	return srv.Start(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	mcpAgent    string
	mcpBusiness string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start a Model Context Protocol server that acts as one bound agent.

By default, the server communicates over stdio using JSON-RPC and can be
used with any MCP-compatible assistant. The agent sees exactly the
databases it is bound to.

Use --port to start an HTTP server instead, which enables:
  - Testing with MCP Inspector web UI
  - Remote access via HTTP

Examples:
  # Stdio mode (default)
  knowledgehub mcp serve --agent agent-1 --business biz-1

  # HTTP mode (for MCP Inspector, remote access)
  knowledgehub mcp serve --agent agent-1 --business biz-1 --port 8080`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpServeCmd.Flags().StringVar(&mcpAgent, "agent", "", "agent id to act as")
	mcpServeCmd.Flags().StringVarP(&mcpBusiness, "business", "b", "", "business id of the agent")
	_ = mcpServeCmd.MarkFlagRequired("agent")
	_ = mcpServeCmd.MarkFlagRequired("business")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	server, err := a.MCPBridge(mcpAgent, mcpBusiness)
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}

package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/app"
)

var serveOpts app.ServeOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, agent server and ingestion workers",
	Long: `Starts the management HTTP API, the agent websocket server and the
ingestion workers. With --inbox, files dropped into
<inbox>/<business>/<database>/ are ingested automatically.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.HTTPAddr, "http-addr", "", "management API address (default from config)")
	serveCmd.Flags().StringVar(&serveOpts.MCPAddr, "mcp-addr", "", "agent server address (default from config)")
	serveCmd.Flags().StringVar(&serveOpts.InboxDir, "inbox", "", "directory to watch for dropped files")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	return a.Serve(ctx, serveOpts)
}

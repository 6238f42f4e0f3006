package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driving/inbox"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest files dropped into an inbox directory",
	Long: `Watches dir and ingests every file written to
<dir>/<business-id>/<database-id>/. Files already present are ingested on
start; duplicates are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	a.Start(ctx)
	cmd.Printf("Watching %s\n", args[0])
	return inbox.New(args[0], a.Intake).Run(ctx)
}

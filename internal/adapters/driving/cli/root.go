// Package cli provides the knowledgehub command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/app"
	"github.com/custodia-labs/knowledgehub/internal/config"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	configPath string
	verbose    bool

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// openApp builds the wired application. Tests replace it.
var openApp = func(cmd *cobra.Command) (*app.App, func() error, error) {
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}

var rootCmd = &cobra.Command{
	Use:   "knowledgehub",
	Short: "Business knowledge ingestion and agent data access",
	Long: `knowledgehub ingests business files into queryable tables and a
semantic index, and serves them to voice agents over a websocket protocol.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded
	logger.SetVerbose(verbose)
	return logger.SetFormat(logger.Format(cfg.LogFormat))
}

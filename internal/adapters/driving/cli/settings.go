package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/ai"
	"github.com/custodia-labs/knowledgehub/internal/config"
)

var settingsForce bool

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and check configuration",
	Long: `Show the effective configuration after the config file, .env and
KNOWLEDGEHUB_* environment variables are applied.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsInit,
}

var settingsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the embedding provider is reachable",
	RunE:  runSettingsCheck,
}

func init() {
	settingsInitCmd.Flags().BoolVarP(&settingsForce, "force", "f", false, "overwrite an existing file")

	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsInitCmd)
	settingsCmd.AddCommand(settingsCheckCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	c := cfg
	cmd.Println(headerStyle.Render("Current Settings"))
	cmd.Println()

	cmd.Println("[Storage]")
	cmd.Printf("  Data dir: %s\n", c.DataDir)
	cmd.Printf("  Metadata: %s\n", c.Storage)
	cmd.Println()

	cmd.Println("[Servers]")
	cmd.Printf("  HTTP API: %s\n", c.HTTP.Addr)
	cmd.Printf("  Agent server: %s (max %d connections)\n", c.MCP.Addr, c.MCP.MaxConnections)
	cmd.Println()

	cmd.Println("[Ingestion]")
	cmd.Printf("  Workers: %d\n", c.Ingestion.Workers)
	cmd.Printf("  Max upload: %s\n", humanize.Bytes(uint64(c.Ingestion.MaxUpload)))
	cmd.Printf("  Chunk size: %d (overlap %d)\n", c.Chunker.Size, c.Chunker.Overlap)
	if c.Ingestion.InboxDir != "" {
		cmd.Printf("  Inbox: %s\n", c.Ingestion.InboxDir)
	}
	cmd.Println()

	cmd.Println("[Embedding]")
	cmd.Printf("  Provider: %s\n", c.Embedding.Provider)
	cmd.Printf("  Model: %s\n", c.Embedding.Model)
	cmd.Printf("  Dimensions: %d\n", c.Embedding.Dimensions)
	if c.Embedding.Provider != "hashing" {
		cmd.Printf("  Base URL: %s\n", c.Embedding.BaseURL)
	}
	if c.Embedding.Provider == "openai" {
		if c.Embedding.APIKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(c.Embedding.APIKey))
		} else {
			cmd.Printf("  API Key: %s\n", warningStyle.Render("(not set)"))
		}
	}
	cmd.Println()

	cmd.Println("[Vector Index]")
	cmd.Printf("  Provider: %s\n", c.Vector.Provider)
	if c.Vector.Provider == "qdrant" {
		cmd.Printf("  Address: %s:%d\n", c.Vector.Host, c.Vector.Port)
		cmd.Printf("  Collection: %s\n", c.Vector.Collection)
		if c.Vector.APIKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(c.Vector.APIKey))
		}
	}
	return nil
}

func runSettingsInit(cmd *cobra.Command, args []string) error {
	path := args[0]
	if _, err := os.Stat(path); err == nil && !settingsForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	data, err := config.Default().Marshal()
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}

func runSettingsCheck(cmd *cobra.Command, _ []string) error {
	svc, err := ai.CreateEmbeddingService(cfg.Embedding)
	if err != nil {
		return err
	}
	defer svc.Close()

	cmd.Printf("Checking %s (%s)... ", cfg.Embedding.Provider, svc.ModelName())
	if err := ai.ValidateEmbeddingService(svc); err != nil {
		cmd.Println(errorStyle.Render("FAILED"))
		return fmt.Errorf("embedding provider unreachable: %w", err)
	}
	cmd.Println(successStyle.Render("OK"))
	return nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

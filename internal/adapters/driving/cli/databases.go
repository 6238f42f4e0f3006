package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

var (
	databaseBusiness    string
	databaseDescription string
	databaseSchemaFile  string
)

var databaseCmd = &cobra.Command{
	Use:     "database",
	Aliases: []string{"databases", "db"},
	Short:   "Manage business databases",
	Long:    `Create, list, inspect, or delete the databases a business owns.`,
}

var databaseCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a database",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatabaseCreate,
}

var databaseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List databases",
	Args:  cobra.NoArgs,
	RunE:  runDatabaseList,
}

var databaseShowCmd = &cobra.Command{
	Use:   "show [database-id]",
	Short: "Show database statistics and tables",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatabaseShow,
}

var databaseDeleteCmd = &cobra.Command{
	Use:   "delete [database-id]",
	Short: "Delete a database with its sources and bindings",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatabaseDelete,
}

func init() {
	databaseCmd.PersistentFlags().StringVarP(&databaseBusiness, "business", "b", "", "business id")
	_ = databaseCmd.MarkPersistentFlagRequired("business")
	databaseCreateCmd.Flags().StringVar(&databaseDescription, "description", "", "database description")
	databaseCreateCmd.Flags().StringVar(&databaseSchemaFile, "schema", "", "path to a JSON schema document")

	databaseCmd.AddCommand(databaseCreateCmd)
	databaseCmd.AddCommand(databaseListCmd)
	databaseCmd.AddCommand(databaseShowCmd)
	databaseCmd.AddCommand(databaseDeleteCmd)
	rootCmd.AddCommand(databaseCmd)
}

func runDatabaseCreate(cmd *cobra.Command, args []string) error {
	db := &domain.BusinessDatabase{
		BusinessID:  databaseBusiness,
		Name:        args[0],
		Description: databaseDescription,
	}
	if databaseSchemaFile != "" {
		raw, err := os.ReadFile(databaseSchemaFile)
		if err != nil {
			return fmt.Errorf("reading schema: %w", err)
		}
		db.Schema = json.RawMessage(raw)
	}

	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	created, err := a.Databases.Create(cmd.Context(), db)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	cmd.Printf("Created database %s (%s)\n", created.Name, created.ID)
	return nil
}

func runDatabaseList(cmd *cobra.Command, _ []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	dbs, err := a.Databases.List(cmd.Context(), databaseBusiness)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}
	if len(dbs) == 0 {
		cmd.Println("No databases found.")
		return nil
	}

	cmd.Println(headerStyle.Render("Databases"))
	for i := range dbs {
		cmd.Printf("  %s  %s  %s\n", dbs[i].ID, dbs[i].Name,
			mutedStyle.Render(humanize.Time(dbs[i].CreatedAt)))
		if dbs[i].Description != "" {
			cmd.Printf("    %s\n", dbs[i].Description)
		}
	}
	return nil
}

func runDatabaseShow(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx := cmd.Context()
	info, err := a.Databases.Get(ctx, databaseBusiness, args[0])
	if err != nil {
		return fmt.Errorf("failed to get database: %w", err)
	}
	schema, err := a.Databases.Schema(ctx, info.ID)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}

	cmd.Println(headerStyle.Render(info.Name))
	cmd.Printf("  ID: %s\n", info.ID)
	cmd.Printf("  Status: %s\n", info.Status)
	cmd.Printf("  Data sources: %d\n", info.Statistics.DataSources)
	cmd.Printf("  Tables: %d\n", info.Statistics.Tables)
	cmd.Printf("  Agent bindings: %d\n", info.Statistics.Bindings)
	if len(schema.Tables) > 0 {
		cmd.Println()
		cmd.Println(headerStyle.Render("Tables"))
		for _, t := range schema.Tables {
			cmd.Printf("  %s  %s rows  %s\n", t.Name, humanize.Comma(int64(t.Rows)), strings.Join(t.Columns, ", "))
		}
	}
	return nil
}

func runDatabaseDelete(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Databases.Delete(cmd.Context(), databaseBusiness, args[0]); err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}
	cmd.Printf("Deleted database %s\n", args[0])
	return nil
}

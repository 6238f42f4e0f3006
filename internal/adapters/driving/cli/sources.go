package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	sourceBusiness string
	sourceDatabase string
)

var sourceCmd = &cobra.Command{
	Use:     "source",
	Aliases: []string{"sources"},
	Short:   "Manage ingested data sources",
	Long:    `List, inspect, reprocess, or delete the files ingested for a business.`,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List data sources",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

var sourceStatusCmd = &cobra.Command{
	Use:   "status [source-id]",
	Short: "Show ingestion status of a data source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceStatus,
}

var sourceReprocessCmd = &cobra.Command{
	Use:   "reprocess [source-id]",
	Short: "Run ingestion again from the stored file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceReprocess,
}

var sourceDeleteCmd = &cobra.Command{
	Use:   "delete [source-id]",
	Short: "Delete a data source with its table and index entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceDelete,
}

func init() {
	sourceCmd.PersistentFlags().StringVarP(&sourceBusiness, "business", "b", "", "business id")
	_ = sourceCmd.MarkPersistentFlagRequired("business")
	sourceListCmd.Flags().StringVarP(&sourceDatabase, "database", "d", "", "only sources of this database")

	sourceCmd.AddCommand(sourceListCmd)
	sourceCmd.AddCommand(sourceStatusCmd)
	sourceCmd.AddCommand(sourceReprocessCmd)
	sourceCmd.AddCommand(sourceDeleteCmd)
	rootCmd.AddCommand(sourceCmd)
}

func runSourceList(cmd *cobra.Command, _ []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	sources, err := a.Intake.List(cmd.Context(), sourceBusiness, sourceDatabase)
	if err != nil {
		return fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		cmd.Println("No data sources found.")
		return nil
	}

	cmd.Println(headerStyle.Render("Data sources"))
	for i := range sources {
		s := &sources[i]
		cmd.Printf("  %s  %s  %s  %s  %d records\n",
			s.ID, s.Name, statusBadge(s.Status), humanize.Bytes(uint64(s.Size)), s.ChunkCount)
	}
	cmd.Printf("\nTotal: %d data sources\n", len(sources))
	return nil
}

func runSourceStatus(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx := cmd.Context()
	ds, err := a.Intake.Get(ctx, sourceBusiness, args[0])
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	cmd.Println(headerStyle.Render(ds.Name))
	cmd.Printf("  ID: %s\n", ds.ID)
	cmd.Printf("  Database: %s\n", ds.DatabaseID)
	cmd.Printf("  Kind: %s\n", ds.Kind)
	cmd.Printf("  Size: %s\n", humanize.Bytes(uint64(ds.Size)))
	cmd.Printf("  Status: %s\n", statusBadge(ds.Status))
	cmd.Printf("  Records: %d\n", ds.ChunkCount)
	if ds.Error != "" {
		cmd.Printf("  Error: %s\n", errorStyle.Render(ds.Error))
	}

	job, err := a.Ingestion.Status(ctx, ds.ID)
	if err == nil && job != nil {
		cmd.Printf("  Job: %s %s (%d%%)\n", job.ID, job.State, job.Progress)
	}
	return nil
}

func runSourceReprocess(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx := cmd.Context()
	a.Start(ctx)
	job, err := a.Intake.Reprocess(ctx, sourceBusiness, args[0])
	if err != nil {
		return fmt.Errorf("failed to reprocess source: %w", err)
	}
	cmd.Printf("Reprocessing %s (job %s)\n", args[0], job.ID)
	a.Ingestion.Wait()

	ds, err := a.Intake.Get(ctx, sourceBusiness, args[0])
	if err != nil {
		return err
	}
	cmd.Printf("%s  %s  %d records\n", ds.Name, statusBadge(ds.Status), ds.ChunkCount)
	return nil
}

func runSourceDelete(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.Intake.Delete(cmd.Context(), sourceBusiness, args[0]); err != nil {
		return fmt.Errorf("failed to delete source: %w", err)
	}
	cmd.Printf("Deleted data source %s\n", args[0])
	return nil
}

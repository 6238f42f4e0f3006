package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

var (
	ingestBusiness string
	ingestDatabase string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file...]",
	Short: "Ingest files into a business database",
	Long: `Uploads one or more files into a business database and runs the
ingestion pipeline. Tabular files become queryable tables; every file is
chunked and indexed for semantic search.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestBusiness, "business", "b", "", "business id")
	ingestCmd.Flags().StringVarP(&ingestDatabase, "database", "d", "", "database id")
	_ = ingestCmd.MarkFlagRequired("business")
	_ = ingestCmd.MarkFlagRequired("database")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx := cmd.Context()
	a.Start(ctx)

	var submitted []*domain.DataSource
	var failed int
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		ds, err := a.Intake.Submit(ctx, domain.Upload{
			BusinessID:   ingestBusiness,
			DatabaseID:   ingestDatabase,
			DeclaredName: filepath.Base(path),
			Content:      content,
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateContent) {
				cmd.Printf("%s  %s\n", filepath.Base(path), mutedStyle.Render("already ingested"))
				continue
			}
			cmd.Printf("%s  %s\n", filepath.Base(path), errorStyle.Render(err.Error()))
			failed++
			continue
		}
		cmd.Printf("%s  queued as %s (%s)\n", ds.Name, ds.ID, humanize.Bytes(uint64(ds.Size)))
		submitted = append(submitted, ds)
	}

	a.Ingestion.Wait()
	for _, ds := range submitted {
		got, err := a.Intake.Get(ctx, ingestBusiness, ds.ID)
		if err != nil {
			return err
		}
		cmd.Printf("%s  %s  %d records\n", got.Name, statusBadge(got.Status), got.ChunkCount)
		if got.Status == domain.SourceError {
			cmd.Printf("  %s\n", mutedStyle.Render(got.Error))
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

var (
	searchBusiness  string
	searchDatabases []string
	searchLimit     int
	searchThreshold float64
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search a business knowledge base",
	Long: `Runs a semantic search over the chunks indexed for a business.
Results below the score threshold are dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVarP(&searchBusiness, "business", "b", "", "business id")
	searchCmd.Flags().StringSliceVarP(&searchDatabases, "database", "d", nil, "restrict to these database ids")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", domain.DefaultSearchLimit, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", domain.DefaultScoreThreshold, "minimum similarity score")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	_ = searchCmd.MarkFlagRequired("business")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	results, err := a.Knowledge.Search(cmd.Context(), domain.SearchRequest{
		Query:          args[0],
		BusinessID:     searchBusiness,
		DatabaseIDs:    searchDatabases,
		Limit:          searchLimit,
		ScoreThreshold: searchThreshold,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, results)
	}
	return outputSearchTable(cmd, results)
}

func outputSearchJSON(cmd *cobra.Command, results []domain.SearchResult) error {
	if results == nil {
		results = []domain.SearchResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, results []domain.SearchResult) error {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println(headerStyle.Render("Results"))
	cmd.Println()
	for i := range results {
		r := &results[i]
		cmd.Printf("[%d] %s  %s\n", i+1, r.SourceID, mutedStyle.Render(fmt.Sprintf("(%.2f)", r.Score)))
		cmd.Printf("    %s\n", snippet(r.Content, 160))
	}
	return nil
}

// snippet flattens whitespace and truncates to n runes.
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

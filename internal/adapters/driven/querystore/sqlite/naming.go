package sqlite

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// TableName derives a table name from the declared file name and the data
// source id: "Q1 Sales.xlsx", "0b8f3f6e-..." becomes "q1_sales_0b8f3f6e".
func TableName(declaredName, dataSourceID string) string {
	base := strings.TrimSuffix(declaredName, filepath.Ext(declaredName))
	base = Identifier(base)
	if base == "" {
		base = "source"
	}
	suffix := strings.ReplaceAll(dataSourceID, "-", "")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return base + "_" + strings.ToLower(suffix)
}

// stagingTable names the table a run writes before it commits.
func stagingTable(table string) string {
	return "_staging_" + table
}

// Identifier lowercases s and collapses anything outside [a-z0-9] to
// underscores. Names starting with a digit get a "c_" prefix.
func Identifier(s string) string {
	id := strings.Trim(nonIdent.ReplaceAllString(strings.ToLower(s), "_"), "_")
	if id != "" && id[0] >= '0' && id[0] <= '9' {
		id = "c_" + id
	}
	return id
}

// columnsFor assigns a column to every public field name in first-seen
// order. It returns the field→position map and the column names.
func columnsFor(records []domain.Record) (map[string]int, []string) {
	fields := make(map[string]int)
	used := make(map[string]bool)
	var columns []string
	for _, rec := range records {
		for _, f := range rec.PublicFields() {
			if _, ok := fields[f.Name]; ok {
				continue
			}
			col := Identifier(f.Name)
			if col == "" {
				col = fmt.Sprintf("column_%d", len(columns)+1)
			}
			for base, n := col, 2; used[col]; n++ {
				col = fmt.Sprintf("%s_%d", base, n)
			}
			used[col] = true
			fields[f.Name] = len(columns)
			columns = append(columns, col)
		}
	}
	return fields, columns
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeRow turns driver byte slices into strings.
func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

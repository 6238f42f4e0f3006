package domain

// DefaultQueryLimit caps rows returned by structured queries.
const DefaultQueryLimit = 100

// StructuredQuery selects rows from a materialized table.
type StructuredQuery struct {
	// Table names the table; empty means every table of the database.
	Table string `json:"table,omitempty"`

	// Columns restricts the returned columns.
	Columns []string `json:"columns,omitempty"`

	// Where holds equality filters by column.
	Where map[string]any `json:"where,omitempty"`

	// Text matches rows containing the text in any column.
	Text string `json:"text,omitempty"`

	// Limit caps returned rows.
	Limit int `json:"limit,omitempty"`
}

// QueryResult is a table of rows.
type QueryResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Table   string           `json:"table,omitempty"`
}

// TableInfo describes one queryable table.
type TableInfo struct {
	Name         string   `json:"name"`
	DataSourceID string   `json:"data_source_id,omitempty"`
	Columns      []string `json:"columns"`
	Rows         int      `json:"rows"`
}

// SchemaInfo is the answer to get_schema.
type SchemaInfo struct {
	DatabaseID  string           `json:"database_id"`
	Name        string           `json:"name"`
	Declared    any              `json:"declared,omitempty"`
	Tables      []TableInfo      `json:"tables"`
	DataSources []DataSourceInfo `json:"data_sources"`
}

// DataSourceInfo is the part of a data source exposed to agents.
type DataSourceInfo struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Kind       SourceKind       `json:"source_kind"`
	Status     DataSourceStatus `json:"status"`
	ChunkCount int              `json:"records_count"`
}

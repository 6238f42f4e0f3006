package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
)

// ListDatabasesInput is the input schema for the list_databases tool.
type ListDatabasesInput struct{}

// ListDatabasesOutput is the output schema for the list_databases tool.
type ListDatabasesOutput struct {
	Databases []DatabaseOutput `json:"databases"`
}

// DatabaseOutput represents a single database.
type DatabaseOutput struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      any    `json:"schema,omitempty"`
}

// QueryInput is the input schema for the query_database tool.
type QueryInput struct {
	DatabaseID string         `json:"database_id" jsonschema:"the database to query"`
	Table      string         `json:"table,omitempty" jsonschema:"table name or data source id; empty searches every table"`
	Columns    []string       `json:"columns,omitempty" jsonschema:"columns to return"`
	Where      map[string]any `json:"where,omitempty" jsonschema:"equality filters by column"`
	Text       string         `json:"text,omitempty" jsonschema:"text that any column must contain"`
	Limit      int            `json:"limit,omitempty" jsonschema:"maximum number of rows"`
}

// QueryOutput is the output schema for the query tools.
type QueryOutput struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// SearchInput is the input schema for the search_knowledge tool.
type SearchInput struct {
	Query          string  `json:"query" jsonschema:"natural language question"`
	DatabaseID     string  `json:"database_id,omitempty" jsonschema:"restrict to one database"`
	Limit          int     `json:"limit,omitempty" jsonschema:"maximum number of results (default 5)"`
	ScoreThreshold float64 `json:"score_threshold,omitempty" jsonschema:"minimum similarity (default 0.7)"`
}

// SearchOutput is the output schema for the search_knowledge tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	SourceID   string         `json:"source_id"`
	DatabaseID string         `json:"database_id"`
	ChunkID    string         `json:"chunk_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// SchemaInput is the input schema for the get_schema tool.
type SchemaInput struct {
	DatabaseID string `json:"database_id" jsonschema:"the database to describe"`
}

// SchemaOutput is the output schema for the get_schema tool.
type SchemaOutput struct {
	DatabaseID  string             `json:"database_id"`
	Name        string             `json:"name"`
	Declared    any                `json:"declared,omitempty"`
	Tables      []TableOutput      `json:"tables"`
	DataSources []DataSourceOutput `json:"data_sources"`
}

// TableOutput represents a queryable table.
type TableOutput struct {
	Name         string   `json:"name"`
	DataSourceID string   `json:"data_source_id,omitempty"`
	Columns      []string `json:"columns"`
	Rows         int      `json:"rows"`
}

// DataSourceOutput represents an uploaded file.
type DataSourceOutput struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"source_kind"`
	Status       string `json:"status"`
	RecordsCount int    `json:"records_count"`
}

// SQLInput is the input schema for the execute_query tool.
type SQLInput struct {
	DatabaseID string `json:"database_id" jsonschema:"the database to query"`
	SQL        string `json:"sql" jsonschema:"a single read-only SELECT statement"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_databases",
		Description: "List the business databases this agent may query",
	}, s.handleListDatabases)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query_database",
		Description: "Select rows from the tables materialized from uploaded spreadsheets, CSV and JSON files",
	}, s.handleQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_knowledge",
		Description: "Semantic search across uploaded documents",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_schema",
		Description: "Describe a database: declared schema, tables and data sources",
	}, s.handleSchema)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execute_query",
		Description: "Run a read-only SQL SELECT against a database",
	}, s.handleSQL)
}

func (s *Server) handleListDatabases(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListDatabasesInput,
) (*mcp.CallToolResult, ListDatabasesOutput, error) {
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, ListDatabasesOutput{}, err
	}
	dbs, err := s.ports.Gateway.ListDatabases(ctx, session)
	if err != nil {
		return nil, ListDatabasesOutput{}, err
	}
	output := ListDatabasesOutput{Databases: make([]DatabaseOutput, len(dbs))}
	for i, db := range dbs {
		output.Databases[i] = DatabaseOutput(db)
	}
	return nil, output, nil
}

func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	res, err := s.ports.Gateway.QueryDatabase(ctx, session, input.DatabaseID, domain.StructuredQuery{
		Table:   input.Table,
		Columns: input.Columns,
		Where:   input.Where,
		Text:    input.Text,
		Limit:   input.Limit,
	})
	if err != nil {
		return nil, QueryOutput{}, err
	}
	return nil, toQueryOutput(res), nil
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	results, err := s.ports.Gateway.SearchKnowledge(ctx, session, driving.KnowledgeQuery{
		Query:          input.Query,
		DatabaseID:     input.DatabaseID,
		Limit:          input.Limit,
		ScoreThreshold: input.ScoreThreshold,
	})
	if err != nil {
		return nil, SearchOutput{}, err
	}
	output := SearchOutput{
		Results: make([]SearchResultOutput, len(results)),
		Count:   len(results),
	}
	for i := range results {
		output.Results[i] = SearchResultOutput{
			Content:    results[i].Content,
			Score:      results[i].Score,
			SourceID:   results[i].SourceID,
			DatabaseID: results[i].DatabaseID,
			ChunkID:    results[i].ChunkID,
			Metadata:   results[i].Metadata,
			CreatedAt:  results[i].CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return nil, output, nil
}

func (s *Server) handleSchema(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SchemaInput,
) (*mcp.CallToolResult, SchemaOutput, error) {
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, SchemaOutput{}, err
	}
	info, err := s.ports.Gateway.GetSchema(ctx, session, input.DatabaseID)
	if err != nil {
		return nil, SchemaOutput{}, err
	}
	output := SchemaOutput{
		DatabaseID:  info.DatabaseID,
		Name:        info.Name,
		Declared:    info.Declared,
		Tables:      make([]TableOutput, len(info.Tables)),
		DataSources: make([]DataSourceOutput, len(info.DataSources)),
	}
	for i, t := range info.Tables {
		output.Tables[i] = TableOutput(t)
	}
	for i, ds := range info.DataSources {
		output.DataSources[i] = DataSourceOutput{
			ID:           ds.ID,
			Name:         ds.Name,
			Kind:         string(ds.Kind),
			Status:       string(ds.Status),
			RecordsCount: ds.ChunkCount,
		}
	}
	return nil, output, nil
}

func (s *Server) handleSQL(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SQLInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	res, err := s.ports.Gateway.ExecuteQuery(ctx, session, input.DatabaseID, input.SQL)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	return nil, toQueryOutput(res), nil
}

func toQueryOutput(res *domain.QueryResult) QueryOutput {
	rows := res.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return QueryOutput{Columns: res.Columns, Rows: rows, Count: len(rows)}
}

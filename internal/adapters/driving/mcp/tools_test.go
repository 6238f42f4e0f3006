package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
)

var timeZero = time.Time{}

func newTestServer(t *testing.T, gw *mockGateway) *Server {
	t.Helper()
	server, err := NewServer(validPorts(gw))
	require.NoError(t, err)
	return server
}

func TestServer_handleListDatabases(t *testing.T) {
	ctx := context.Background()

	t.Run("returns bound databases", func(t *testing.T) {
		gw := &mockGateway{databases: []driving.DatabaseSummary{
			{ID: "db-1", Name: "Catalog", Description: "products"},
			{ID: "db-2", Name: "FAQ"},
		}}
		server := newTestServer(t, gw)

		_, output, err := server.handleListDatabases(ctx, nil, ListDatabasesInput{})
		require.NoError(t, err)
		require.Len(t, output.Databases, 2)
		assert.Equal(t, "db-1", output.Databases[0].ID)
		assert.Equal(t, "Catalog", output.Databases[0].Name)
		assert.Equal(t, "products", output.Databases[0].Description)
	})

	t.Run("returns error on failure", func(t *testing.T) {
		server := newTestServer(t, &mockGateway{err: errors.New("boom")})
		_, _, err := server.handleListDatabases(ctx, nil, ListDatabasesInput{})
		assert.Error(t, err)
	})
}

func TestServer_handleQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("passes the structured query through", func(t *testing.T) {
		gw := &mockGateway{
			allowed: map[string]bool{"db-1": true},
			result: &domain.QueryResult{
				Columns: []string{"name", "price"},
				Rows:    []map[string]any{{"name": "Widget", "price": "9.99"}},
			},
		}
		server := newTestServer(t, gw)

		input := QueryInput{
			DatabaseID: "db-1",
			Table:      "products",
			Where:      map[string]any{"name": "Widget"},
			Limit:      10,
		}
		_, output, err := server.handleQuery(ctx, nil, input)
		require.NoError(t, err)
		assert.Equal(t, 1, output.Count)
		assert.Equal(t, []string{"name", "price"}, output.Columns)
		assert.Equal(t, "products", gw.lastQuery.Table)
		assert.Equal(t, 10, gw.lastQuery.Limit)
		assert.Equal(t, "Widget", gw.lastQuery.Where["name"])
	})

	t.Run("unbound database is denied", func(t *testing.T) {
		server := newTestServer(t, &mockGateway{allowed: map[string]bool{"db-1": true}})
		_, _, err := server.handleQuery(ctx, nil, QueryInput{DatabaseID: "db-9"})
		assert.ErrorIs(t, err, domain.ErrAccessDenied)
	})

	t.Run("empty result has empty rows", func(t *testing.T) {
		gw := &mockGateway{allowed: map[string]bool{"db-1": true}, result: &domain.QueryResult{}}
		server := newTestServer(t, gw)
		_, output, err := server.handleQuery(ctx, nil, QueryInput{DatabaseID: "db-1"})
		require.NoError(t, err)
		assert.NotNil(t, output.Rows)
		assert.Equal(t, 0, output.Count)
	})
}

func TestServer_handleSearch(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("returns search results", func(t *testing.T) {
		gw := &mockGateway{results: []domain.SearchResult{{
			Content:    "Returns are accepted within 30 days",
			Score:      0.91,
			SourceID:   "ds-1",
			DatabaseID: "db-1",
			ChunkID:    "ds-1-0",
			CreatedAt:  created,
		}}}
		server := newTestServer(t, gw)

		input := SearchInput{Query: "returns", DatabaseID: "db-1", Limit: 3, ScoreThreshold: 0.5}
		_, output, err := server.handleSearch(ctx, nil, input)
		require.NoError(t, err)
		assert.Equal(t, 1, output.Count)
		assert.Equal(t, "ds-1-0", output.Results[0].ChunkID)
		assert.Equal(t, 0.91, output.Results[0].Score)
		assert.Equal(t, "2026-03-01T12:00:00Z", output.Results[0].CreatedAt)
		assert.Equal(t, driving.KnowledgeQuery{
			Query: "returns", DatabaseID: "db-1", Limit: 3, ScoreThreshold: 0.5,
		}, gw.lastSearch)
	})

	t.Run("returns error on search failure", func(t *testing.T) {
		server := newTestServer(t, &mockGateway{err: domain.ErrIndexUpstream})
		_, _, err := server.handleSearch(ctx, nil, SearchInput{Query: "x"})
		assert.ErrorIs(t, err, domain.ErrIndexUpstream)
	})
}

func TestServer_handleSchema(t *testing.T) {
	ctx := context.Background()

	gw := &mockGateway{
		allowed: map[string]bool{"db-1": true},
		schema: &domain.SchemaInfo{
			DatabaseID: "db-1",
			Name:       "Catalog",
			Tables: []domain.TableInfo{
				{Name: "products_ds000000", DataSourceID: "ds-00000001", Columns: []string{"name"}, Rows: 2},
			},
			DataSources: []domain.DataSourceInfo{
				{ID: "ds-00000001", Name: "products.csv", Kind: domain.KindDelimited, Status: domain.SourceCompleted, ChunkCount: 1},
			},
		},
	}
	server := newTestServer(t, gw)

	_, output, err := server.handleSchema(ctx, nil, SchemaInput{DatabaseID: "db-1"})
	require.NoError(t, err)
	assert.Equal(t, "Catalog", output.Name)
	require.Len(t, output.Tables, 1)
	assert.Equal(t, 2, output.Tables[0].Rows)
	require.Len(t, output.DataSources, 1)
	assert.Equal(t, string(domain.SourceCompleted), output.DataSources[0].Status)
	assert.Equal(t, 1, output.DataSources[0].RecordsCount)

	_, _, err = server.handleSchema(ctx, nil, SchemaInput{DatabaseID: "db-2"})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestServer_handleSQL(t *testing.T) {
	ctx := context.Background()

	gw := &mockGateway{
		allowed: map[string]bool{"db-1": true},
		result:  &domain.QueryResult{Columns: []string{"n"}, Rows: []map[string]any{{"n": int64(2)}}},
	}
	server := newTestServer(t, gw)

	_, output, err := server.handleSQL(ctx, nil, SQLInput{DatabaseID: "db-1", SQL: "SELECT count(*) AS n FROM t"})
	require.NoError(t, err)
	assert.Equal(t, 1, output.Count)
	assert.Equal(t, "SELECT count(*) AS n FROM t", gw.lastSQL)
}

package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func productRecords() []domain.Record {
	return []domain.Record{
		domain.NewRecord(domain.KindTabular,
			domain.Field{Name: "_sheet_name", Value: "Sheet1"},
			domain.Field{Name: "Product", Value: "Widget A"},
			domain.Field{Name: "Unit Price", Value: 10.0}),
		domain.NewRecord(domain.KindTabular,
			domain.Field{Name: "_sheet_name", Value: "Sheet1"},
			domain.Field{Name: "Product", Value: "Widget B"},
			domain.Field{Name: "Unit Price", Value: 12.5}),
		domain.NewRecord(domain.KindTabular,
			domain.Field{Name: "_sheet_name", Value: "Sheet1"},
			domain.Field{Name: "Product", Value: "Gadget 100%"},
			domain.Field{Name: "Unit Price", Value: 99.0}),
	}
}

func testSource() *domain.DataSource {
	return &domain.DataSource{
		ID:         "0b8f3f6e-9d3c-4f35-9a53-0c2b1c0c8a11",
		BusinessID: "biz-1",
		DatabaseID: "db-1",
		Name:       "Q1 Products.xlsx",
		Kind:       domain.KindTabular,
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		name, declared, id, want string
	}{
		{"extension stripped", "Q1 Products.xlsx", "0b8f3f6e-9d3c", "q1_products_0b8f3f6e"},
		{"leading digit", "2024.csv", "abcdef123456", "c_2024_abcdef12"},
		{"symbols only", "%%%.json", "ABC", "source_abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TableName(tt.declared, tt.id))
		})
	}
}

func TestColumnsFor_DedupesSanitisedNames(t *testing.T) {
	recs := []domain.Record{
		domain.NewRecord(domain.KindDelimited,
			domain.Field{Name: "Unit Price", Value: "1"},
			domain.Field{Name: "unit-price", Value: "2"},
			domain.Field{Name: "***", Value: "3"}),
		domain.NewRecord(domain.KindDelimited, domain.Field{Name: "extra", Value: "4"}),
	}
	fields, cols := columnsFor(recs)
	assert.Equal(t, []string{"unit_price", "unit_price_2", "column_3", "extra"}, cols)
	assert.Equal(t, 1, fields["unit-price"])
}

func TestMaterializeAndTables(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	ds := testSource()

	require.NoError(t, s.Materialize(ctx, ds, productRecords()))

	tables, err := s.Tables(ctx, "db-1")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "q1_products_0b8f3f6e", tables[0].Name)
	assert.Equal(t, ds.ID, tables[0].DataSourceID)
	assert.Equal(t, []string{"product", "unit_price"}, tables[0].Columns)
	assert.Equal(t, 3, tables[0].Rows)

	// Re-materializing replaces rather than appends.
	require.NoError(t, s.Materialize(ctx, ds, productRecords()[:1]))
	tables, err = s.Tables(ctx, "db-1")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, 1, tables[0].Rows)
}

func TestStagedTableIsInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	ds := testSource()
	require.NoError(t, s.Materialize(ctx, ds, productRecords()))

	rowsOf := func() int {
		t.Helper()
		tables, err := s.Tables(ctx, "db-1")
		require.NoError(t, err)
		require.Len(t, tables, 1)
		res, err := s.ExecuteStructured(ctx, "db-1", domain.StructuredQuery{Table: tables[0].Name})
		require.NoError(t, err)
		assert.Len(t, res.Rows, tables[0].Rows)
		return tables[0].Rows
	}
	stagingTables := func() int {
		t.Helper()
		res, err := s.ExecuteRaw(ctx, "db-1", "SELECT name FROM sqlite_master WHERE type = 'table' AND substr(name, 1, 9) = '_staging_'", 10)
		require.NoError(t, err)
		return len(res.Rows)
	}

	require.NoError(t, s.StageSource(ctx, ds, productRecords()[:1]))
	assert.Equal(t, 3, rowsOf(), "the staged run is not visible yet")
	assert.Equal(t, 1, stagingTables())

	require.NoError(t, s.DiscardStaged(ctx, ds))
	assert.Equal(t, 3, rowsOf(), "discarding keeps the previous table")
	assert.Zero(t, stagingTables())
	assert.ErrorIs(t, s.CommitSource(ctx, ds), domain.ErrNotFound)

	require.NoError(t, s.StageSource(ctx, ds, productRecords()[:2]))
	require.NoError(t, s.CommitSource(ctx, ds))
	assert.Equal(t, 2, rowsOf())
	assert.Zero(t, stagingTables())

	// Discarding with nothing staged is a no-op.
	assert.NoError(t, s.DiscardStaged(ctx, ds))
	assert.NoError(t, s.DiscardStaged(ctx, &domain.DataSource{ID: "x", DatabaseID: "db-9", Name: "x.csv"}))
}

func TestTables_UnknownDatabase(t *testing.T) {
	s := setupTestStore(t)
	tables, err := s.Tables(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestExecuteStructured(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	require.NoError(t, s.Materialize(ctx, testSource(), productRecords()))

	tests := []struct {
		name     string
		query    domain.StructuredQuery
		wantRows []string
		wantErr  error
	}{
		{
			name:     "all rows in order",
			query:    domain.StructuredQuery{Table: "q1_products_0b8f3f6e"},
			wantRows: []string{"Widget A", "Widget B", "Gadget 100%"},
		},
		{
			name:     "table by data source id",
			query:    domain.StructuredQuery{Table: testSource().ID, Limit: 1},
			wantRows: []string{"Widget A"},
		},
		{
			name:     "where equality",
			query:    domain.StructuredQuery{Table: "q1_products_0b8f3f6e", Where: map[string]any{"unit_price": 12.5}},
			wantRows: []string{"Widget B"},
		},
		{
			name:     "text search escapes wildcards",
			query:    domain.StructuredQuery{Text: "100%"},
			wantRows: []string{"Gadget 100%"},
		},
		{
			name:     "text search across tables",
			query:    domain.StructuredQuery{Text: "widget"},
			wantRows: []string{"Widget A", "Widget B"},
		},
		{
			name:    "unknown table",
			query:   domain.StructuredQuery{Table: "missing"},
			wantErr: domain.ErrNotFound,
		},
		{
			name:    "unknown column",
			query:   domain.StructuredQuery{Table: "q1_products_0b8f3f6e", Columns: []string{"secret"}},
			wantErr: domain.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.ExecuteStructured(ctx, "db-1", tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			got := make([]string, 0, len(res.Rows))
			for _, row := range res.Rows {
				got = append(got, row["product"].(string))
			}
			assert.Equal(t, tt.wantRows, got)
		})
	}
}

func TestExecuteStructured_AllTablesTagsRows(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	require.NoError(t, s.Materialize(ctx, testSource(), productRecords()))

	res, err := s.ExecuteStructured(ctx, "db-1", domain.StructuredQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "q1_products_0b8f3f6e", res.Rows[0][TableColumn])
	assert.Contains(t, res.Columns, TableColumn)
}

func TestExecuteRaw(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	require.NoError(t, s.Materialize(ctx, testSource(), productRecords()))

	res, err := s.ExecuteRaw(ctx, "db-1", `SELECT product, unit_price FROM q1_products_0b8f3f6e ORDER BY _record_index`, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"product", "unit_price"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Widget A", res.Rows[0]["product"])
	assert.Equal(t, "10", res.Rows[0]["unit_price"])
}

func TestExecuteRaw_ReadOnly(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	require.NoError(t, s.Materialize(ctx, testSource(), productRecords()))

	_, err := s.ExecuteRaw(ctx, "db-1", `DELETE FROM q1_products_0b8f3f6e`, 10)
	require.Error(t, err)

	tables, err := s.Tables(ctx, "db-1")
	require.NoError(t, err)
	assert.Equal(t, 3, tables[0].Rows)
	res, err := s.ExecuteRaw(ctx, "db-1", `SELECT count(*) AS n FROM q1_products_0b8f3f6e`, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.Rows[0]["n"])
}

func TestExecuteRaw_BadSQL(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.ExecuteRaw(context.Background(), "db-1", `SELECT * FROM nowhere`, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDropSourceAndDatabase(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	ds := testSource()
	require.NoError(t, s.Materialize(ctx, ds, productRecords()))

	require.NoError(t, s.DropSource(ctx, "db-1", ds.ID))
	tables, err := s.Tables(ctx, "db-1")
	require.NoError(t, err)
	assert.Empty(t, tables)

	// Unknown source and database are no-ops.
	assert.NoError(t, s.DropSource(ctx, "db-1", "missing"))
	assert.NoError(t, s.DropSource(ctx, "db-9", "missing"))

	require.NoError(t, s.Materialize(ctx, ds, productRecords()))
	require.NoError(t, s.DropDatabase(ctx, "db-1"))
	tables, err = s.Tables(ctx, "db-1")
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestInvalidDatabaseID(t *testing.T) {
	s := setupTestStore(t)
	_, err := s.ExecuteRaw(context.Background(), "../etc", "SELECT 1", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// Package sqlite implements driven.QueryStore with one SQLite file per
// business database. Every tabular, delimited or structured data source is
// materialized as its own table of TEXT columns; a _sources table tracks
// which data source owns which table. A re-ingest builds a _staging_ table
// first and renames it over the current one on commit. Agent SQL runs on a
// separate read-only handle.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure Store implements the interface.
var _ driven.QueryStore = (*Store)(nil)

const (
	driver = "sqlite"

	// RecordIndexColumn orders rows in source order.
	RecordIndexColumn = "_record_index"

	// TableColumn names the table of each row when a structured query
	// spans every table.
	TableColumn = "_table"

	// MaxQueryLimit caps structured query limits.
	MaxQueryLimit = 1000
)

const sourcesSchema = `
CREATE TABLE IF NOT EXISTS _sources (
	data_source_id TEXT PRIMARY KEY,
	table_name     TEXT NOT NULL UNIQUE,
	source_name    TEXT NOT NULL,
	columns        TEXT NOT NULL,
	row_count      INTEGER NOT NULL,
	created_at     INTEGER NOT NULL
)`

var (
	validDatabaseID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	nonIdent        = regexp.MustCompile(`[^a-z0-9]+`)
)

// stagedTable describes a staging table awaiting CommitSource.
type stagedTable struct {
	databaseID string
	table      string
	columns    []string
	rows       int
}

type handles struct {
	rw *sqlx.DB
	ro *sqlx.DB
}

// Store manages the per-database files under a directory.
type Store struct {
	dir string

	mu  sync.Mutex
	dbs map[string]*handles

	stageMu sync.Mutex
	staged  map[string]stagedTable // by data source id
}

// sourceRow is a row of _sources.
type sourceRow struct {
	DataSourceID string `db:"data_source_id"`
	TableName    string `db:"table_name"`
	SourceName   string `db:"source_name"`
	Columns      string `db:"columns"`
	RowCount     int    `db:"row_count"`
	CreatedAt    int64  `db:"created_at"`
}

func (r sourceRow) info() domain.TableInfo {
	var cols []string
	_ = json.Unmarshal([]byte(r.Columns), &cols)
	return domain.TableInfo{
		Name:         r.TableName,
		DataSourceID: r.DataSourceID,
		Columns:      cols,
		Rows:         r.RowCount,
	}
}

// New creates the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: query store directory is required", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating query store directory: %w", err)
	}
	return &Store{dir: dir, dbs: make(map[string]*handles), staged: make(map[string]stagedTable)}, nil
}

func (s *Store) path(databaseID string) string {
	return filepath.Join(s.dir, databaseID+".db")
}

// open returns the handles for a database, creating the file on first use.
func (s *Store) open(ctx context.Context, databaseID string) (*handles, error) {
	if !validDatabaseID.MatchString(databaseID) {
		return nil, fmt.Errorf("%w: invalid database id %q", domain.ErrInvalidInput, databaseID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.dbs[databaseID]; ok {
		return h, nil
	}

	path := s.path(databaseID)
	rw, err := sqlx.Open(driver, path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening query database: %w", err)
	}
	rw.SetMaxOpenConns(1)
	if _, err := rw.ExecContext(ctx, sourcesSchema); err != nil {
		rw.Close()
		return nil, fmt.Errorf("initialising query database: %w", err)
	}

	ro, err := sqlx.Open(driver, "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)")
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("opening read-only query database: %w", err)
	}

	h := &handles{rw: rw, ro: ro}
	s.dbs[databaseID] = h
	return h, nil
}

// Materialize replaces the data source's table with the records.
func (s *Store) Materialize(ctx context.Context, ds *domain.DataSource, records []domain.Record) error {
	if err := s.StageSource(ctx, ds, records); err != nil {
		return err
	}
	return s.CommitSource(ctx, ds)
}

// StageSource writes the records to a staging table. A table left staged
// by an earlier run of the same data source is replaced.
func (s *Store) StageSource(ctx context.Context, ds *domain.DataSource, records []domain.Record) error {
	h, err := s.open(ctx, ds.DatabaseID)
	if err != nil {
		return err
	}

	fields, columns := columnsFor(records)
	table := TableName(ds.Name, ds.ID)
	staging := stagingTable(table)

	tx, err := h.rw.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(staging)); err != nil {
		return fmt.Errorf("dropping table %s: %w", staging, err)
	}

	defs := make([]string, 0, len(columns)+1)
	defs = append(defs, quoteIdent(RecordIndexColumn)+" INTEGER NOT NULL")
	for _, c := range columns {
		defs = append(defs, quoteIdent(c)+" TEXT")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(staging), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("creating table %s: %w", staging, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)+1), ", ")
	quoted := make([]string, 0, len(columns)+1)
	quoted = append(quoted, quoteIdent(RecordIndexColumn))
	for _, c := range columns {
		quoted = append(quoted, quoteIdent(c))
	}
	stmt, err := tx.PreparexContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(staging), strings.Join(quoted, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range records {
		args := make([]any, len(columns)+1)
		args[0] = i
		for _, f := range rec.PublicFields() {
			if pos, ok := fields[f.Name]; ok {
				args[pos+1] = domain.FormatValue(f.Value)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("inserting record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.stageMu.Lock()
	s.staged[ds.ID] = stagedTable{databaseID: ds.DatabaseID, table: table, columns: columns, rows: len(records)}
	s.stageMu.Unlock()
	logger.Debug("staged %d records of %s into %s", len(records), ds.ID, staging)
	return nil
}

// CommitSource drops the data source's current table and renames the
// staged one in its place, in one transaction.
func (s *Store) CommitSource(ctx context.Context, ds *domain.DataSource) error {
	s.stageMu.Lock()
	st, ok := s.staged[ds.ID]
	s.stageMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no staged table for %s", domain.ErrNotFound, ds.ID)
	}

	h, err := s.open(ctx, st.databaseID)
	if err != nil {
		return err
	}
	tx, err := h.rw.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := dropSourceTx(ctx, tx, ds.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		quoteIdent(stagingTable(st.table)), quoteIdent(st.table))); err != nil {
		return fmt.Errorf("swapping in table %s: %w", st.table, err)
	}

	colsJSON, err := json.Marshal(st.columns)
	if err != nil {
		return fmt.Errorf("encoding columns: %w", err)
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO _sources (data_source_id, table_name, source_name, columns, row_count, created_at)
		VALUES (:data_source_id, :table_name, :source_name, :columns, :row_count, :created_at)`,
		sourceRow{
			DataSourceID: ds.ID,
			TableName:    st.table,
			SourceName:   ds.Name,
			Columns:      string(colsJSON),
			RowCount:     st.rows,
			CreatedAt:    time.Now().UTC().UnixNano(),
		})
	if err != nil {
		return fmt.Errorf("registering table %s: %w", st.table, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.stageMu.Lock()
	delete(s.staged, ds.ID)
	s.stageMu.Unlock()
	logger.Debug("materialized %d records of %s into %s", st.rows, ds.ID, st.table)
	return nil
}

// DiscardStaged drops the data source's staging table. The current table
// is untouched.
func (s *Store) DiscardStaged(ctx context.Context, ds *domain.DataSource) error {
	s.stageMu.Lock()
	delete(s.staged, ds.ID)
	s.stageMu.Unlock()

	if !s.exists(ds.DatabaseID) {
		return nil
	}
	h, err := s.open(ctx, ds.DatabaseID)
	if err != nil {
		return err
	}
	staging := stagingTable(TableName(ds.Name, ds.ID))
	if _, err := h.rw.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(staging)); err != nil {
		return fmt.Errorf("dropping table %s: %w", staging, err)
	}
	return nil
}

func dropSourceTx(ctx context.Context, tx *sqlx.Tx, dataSourceID string) error {
	var table string
	err := tx.GetContext(ctx, &table, "SELECT table_name FROM _sources WHERE data_source_id = ?", dataSourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("looking up table of %s: %w", dataSourceID, err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("dropping table %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM _sources WHERE data_source_id = ?", dataSourceID); err != nil {
		return fmt.Errorf("unregistering table %s: %w", table, err)
	}
	return nil
}

// DropSource removes the data source's table. Unknown sources are ignored.
func (s *Store) DropSource(ctx context.Context, databaseID, dataSourceID string) error {
	if !s.exists(databaseID) {
		return nil
	}
	h, err := s.open(ctx, databaseID)
	if err != nil {
		return err
	}
	tx, err := h.rw.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := dropSourceTx(ctx, tx, dataSourceID); err != nil {
		return err
	}
	return tx.Commit()
}

// Tables lists materialized tables ordered by name.
func (s *Store) Tables(ctx context.Context, databaseID string) ([]domain.TableInfo, error) {
	if !s.exists(databaseID) {
		return []domain.TableInfo{}, nil
	}
	h, err := s.open(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	var rows []sourceRow
	if err := h.rw.SelectContext(ctx, &rows, "SELECT * FROM _sources ORDER BY table_name"); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	out := make([]domain.TableInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.info())
	}
	return out, nil
}

// ExecuteStructured runs a structured query. An empty table searches every
// table and tags each row with _table.
func (s *Store) ExecuteStructured(ctx context.Context, databaseID string, q domain.StructuredQuery) (*domain.QueryResult, error) {
	tables, err := s.Tables(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = domain.DefaultQueryLimit
	}
	limit = min(limit, MaxQueryLimit)

	if q.Table != "" {
		t, ok := findTable(tables, q.Table)
		if !ok {
			return nil, fmt.Errorf("%w: table %q", domain.ErrNotFound, q.Table)
		}
		if err := validateColumns(t, q); err != nil {
			return nil, err
		}
		h, err := s.open(ctx, databaseID)
		if err != nil {
			return nil, err
		}
		res, err := selectRows(ctx, h.ro, t, q, limit)
		if err != nil {
			return nil, err
		}
		res.Table = t.Name
		return res, nil
	}

	out := &domain.QueryResult{Columns: []string{TableColumn}, Rows: []map[string]any{}}
	if len(tables) == 0 {
		return out, nil
	}
	h, err := s.open(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{TableColumn: true}
	for _, t := range tables {
		if validateColumns(t, q) != nil {
			continue
		}
		res, err := selectRows(ctx, h.ro, t, q, limit-len(out.Rows))
		if err != nil {
			return nil, err
		}
		for _, c := range res.Columns {
			if !seen[c] {
				seen[c] = true
				out.Columns = append(out.Columns, c)
			}
		}
		for _, row := range res.Rows {
			row[TableColumn] = t.Name
			out.Rows = append(out.Rows, row)
		}
		if len(out.Rows) >= limit {
			break
		}
	}
	return out, nil
}

func findTable(tables []domain.TableInfo, name string) (domain.TableInfo, bool) {
	for _, t := range tables {
		if t.Name == name || t.DataSourceID == name {
			return t, true
		}
	}
	return domain.TableInfo{}, false
}

func validateColumns(t domain.TableInfo, q domain.StructuredQuery) error {
	known := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		known[c] = true
	}
	for _, c := range q.Columns {
		if !known[c] {
			return fmt.Errorf("%w: unknown column %q in table %s", domain.ErrInvalidInput, c, t.Name)
		}
	}
	for c := range q.Where {
		if !known[c] {
			return fmt.Errorf("%w: unknown column %q in table %s", domain.ErrInvalidInput, c, t.Name)
		}
	}
	return nil
}

func selectRows(ctx context.Context, db *sqlx.DB, t domain.TableInfo, q domain.StructuredQuery, limit int) (*domain.QueryResult, error) {
	cols := q.Columns
	if len(cols) == 0 {
		cols = t.Columns
	}
	res := &domain.QueryResult{Columns: cols, Rows: []map[string]any{}}
	if len(cols) == 0 || limit <= 0 {
		return res, nil
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(t.Name))

	var conds []string
	var args []any
	for _, c := range sortedKeys(q.Where) {
		conds = append(conds, quoteIdent(c)+" = ?")
		args = append(args, domain.FormatValue(q.Where[c]))
	}
	if q.Text != "" {
		like := "%" + escapeLike(q.Text) + "%"
		ors := make([]string, 0, len(t.Columns))
		for _, c := range t.Columns {
			ors = append(ors, quoteIdent(c)+` LIKE ? ESCAPE '\'`)
			args = append(args, like)
		}
		if len(ors) > 0 {
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %d", quoteIdent(RecordIndexColumn), limit)

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", t.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		row := make(map[string]any, len(cols))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		res.Rows = append(res.Rows, normalizeRow(row))
	}
	return res, rows.Err()
}

// ExecuteRaw runs a statement on the read-only handle and returns at most
// maxRows rows.
func (s *Store) ExecuteRaw(ctx context.Context, databaseID, statement string, maxRows int) (*domain.QueryResult, error) {
	h, err := s.open(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	if maxRows <= 0 {
		maxRows = domain.DefaultQueryLimit
	}

	rows, err := h.ro.QueryxContext(ctx, statement)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}
	res := &domain.QueryResult{Columns: cols, Rows: []map[string]any{}}
	for len(res.Rows) < maxRows && rows.Next() {
		row := make(map[string]any, len(cols))
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		res.Rows = append(res.Rows, normalizeRow(row))
	}
	return res, rows.Err()
}

// DropDatabase closes the database's handles and removes its files.
func (s *Store) DropDatabase(_ context.Context, databaseID string) error {
	if !validDatabaseID.MatchString(databaseID) {
		return fmt.Errorf("%w: invalid database id %q", domain.ErrInvalidInput, databaseID)
	}
	s.mu.Lock()
	if h, ok := s.dbs[databaseID]; ok {
		h.ro.Close()
		h.rw.Close()
		delete(s.dbs, databaseID)
	}
	s.mu.Unlock()

	s.stageMu.Lock()
	for id, st := range s.staged {
		if st.databaseID == databaseID {
			delete(s.staged, id)
		}
	}
	s.stageMu.Unlock()

	path := s.path(databaseID)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	return nil
}

// Close closes every open handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for id, h := range s.dbs {
		errs = append(errs, h.ro.Close(), h.rw.Close())
		delete(s.dbs, id)
	}
	return errors.Join(errs...)
}

func (s *Store) exists(databaseID string) bool {
	if !validDatabaseID.MatchString(databaseID) {
		return false
	}
	s.mu.Lock()
	_, open := s.dbs[databaseID]
	s.mu.Unlock()
	if open {
		return true
	}
	_, err := os.Stat(s.path(databaseID))
	return err == nil
}

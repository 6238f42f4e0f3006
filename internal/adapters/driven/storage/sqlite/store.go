package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Driver is the database/sql driver name.
const Driver = "sqlite"

// Store is a unified SQLite-based storage that provides access to
// all metadata store interfaces through wrapper types.
type Store struct {
	db   *sqlx.DB
	path string
}

// NewStore creates a new SQLite store in the data directory and applies
// pending migrations.
func NewStore(ctx context.Context, dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", domain.ErrInvalidInput)
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sqlx.Open(Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// migrate applies the embedded goose migrations.
func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, s.db.DB, ".")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DataSourceStore returns a DataSourceStore backed by this store.
func (s *Store) DataSourceStore() driven.DataSourceStore {
	return &dataSourceStore{store: s}
}

// ChunkStore returns a ChunkStore backed by this store.
func (s *Store) ChunkStore() driven.ChunkStore {
	return &chunkStore{store: s}
}

// JobStore returns a JobStore backed by this store.
func (s *Store) JobStore() driven.JobStore {
	return &jobStore{store: s}
}

// DatabaseStore returns a DatabaseStore backed by this store.
func (s *Store) DatabaseStore() driven.DatabaseStore {
	return &databaseStore{store: s}
}

// BindingStore returns a BindingStore backed by this store.
func (s *Store) BindingStore() driven.BindingStore {
	return &bindingStore{store: s}
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound maps sql.ErrNoRows to domain.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("getting %s: %w", what, err)
}

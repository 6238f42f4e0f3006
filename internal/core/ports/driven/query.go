package driven

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// QueryStore is the external store that answers structured and raw queries
// for a business database.
type QueryStore interface {
	// Materialize writes a data source's records as a queryable table,
	// replacing the previous one at once.
	Materialize(ctx context.Context, ds *domain.DataSource, records []domain.Record) error

	// StageSource writes a data source's records to a staging table that
	// no query sees until CommitSource.
	StageSource(ctx context.Context, ds *domain.DataSource, records []domain.Record) error

	// CommitSource swaps the staged table in for the data source's current
	// table. It fails with domain.ErrNotFound when nothing is staged.
	CommitSource(ctx context.Context, ds *domain.DataSource) error

	// DiscardStaged drops the data source's staging table, if any.
	DiscardStaged(ctx context.Context, ds *domain.DataSource) error

	// DropSource removes the data source's table.
	DropSource(ctx context.Context, databaseID, dataSourceID string) error

	// Tables lists the database's queryable tables.
	Tables(ctx context.Context, databaseID string) ([]domain.TableInfo, error)

	// ExecuteStructured runs a structured query.
	ExecuteStructured(ctx context.Context, databaseID string, q domain.StructuredQuery) (*domain.QueryResult, error)

	// ExecuteRaw runs a read-only statement.
	ExecuteRaw(ctx context.Context, databaseID, statement string, maxRows int) (*domain.QueryResult, error)

	// DropDatabase removes everything stored for a database.
	DropDatabase(ctx context.Context, databaseID string) error

	// Close releases resources.
	Close() error
}

// BlobStore keeps uploaded bytes.
type BlobStore interface {
	// Put stores content and returns its storage path.
	Put(ctx context.Context, businessID, dataSourceID, name string, content []byte) (string, error)

	// Get reads stored content.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes stored content. Missing content is not an error.
	Delete(ctx context.Context, path string) error
}

// StatusNotifier receives job status events.
type StatusNotifier interface {
	Publish(event domain.StatusEvent)
}

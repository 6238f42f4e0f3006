package driven

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// DataSourceStore persists uploaded data sources.
type DataSourceStore interface {
	// CreateDataSource inserts a data source. It returns
	// domain.ErrDuplicateContent when the business already holds the hash.
	CreateDataSource(ctx context.Context, ds *domain.DataSource) error

	// GetDataSource returns a data source or domain.ErrNotFound.
	GetDataSource(ctx context.Context, id string) (*domain.DataSource, error)

	// FindByHash returns the business's data source with the hash or domain.ErrNotFound.
	FindByHash(ctx context.Context, businessID, hash string) (*domain.DataSource, error)

	// ListDataSources lists a business's data sources, optionally for one database.
	ListDataSources(ctx context.Context, businessID, databaseID string) ([]domain.DataSource, error)

	// UpdateStatus sets status, error and chunk count.
	UpdateStatus(ctx context.Context, id string, status domain.DataSourceStatus, errMsg string, chunkCount int) error

	// DeleteDataSource removes a data source with its chunks and jobs.
	DeleteDataSource(ctx context.Context, id string) error
}

// ChunkStore persists chunk metadata.
type ChunkStore interface {
	// ReplaceChunks atomically swaps the data source's chunks for chunks.
	ReplaceChunks(ctx context.Context, dataSourceID string, chunks []domain.Chunk) error

	// GetChunks returns the data source's chunks ordered by index.
	GetChunks(ctx context.Context, dataSourceID string) ([]domain.Chunk, error)

	// CountChunks returns the number of chunks for the data source.
	CountChunks(ctx context.Context, dataSourceID string) (int, error)
}

// JobStore persists ingestion jobs.
type JobStore interface {
	// SaveJob inserts or updates a job.
	SaveJob(ctx context.Context, job *domain.Job) error

	// GetJob returns a job or domain.ErrNotFound.
	GetJob(ctx context.Context, id string) (*domain.Job, error)

	// LatestJob returns the newest job of a data source or domain.ErrNotFound.
	LatestJob(ctx context.Context, dataSourceID string) (*domain.Job, error)

	// ActiveJobs returns every pending or running job, oldest first.
	ActiveJobs(ctx context.Context) ([]domain.Job, error)
}

// DatabaseStore persists business databases.
type DatabaseStore interface {
	CreateDatabase(ctx context.Context, db *domain.BusinessDatabase) error
	GetDatabase(ctx context.Context, id string) (*domain.BusinessDatabase, error)
	ListDatabases(ctx context.Context, businessID string) ([]domain.BusinessDatabase, error)
	DeleteDatabase(ctx context.Context, id string) error
}

// BindingStore persists agent database bindings.
type BindingStore interface {
	// CreateBinding inserts a binding. It returns domain.ErrDuplicateBinding
	// when an active binding for the agent and database exists.
	CreateBinding(ctx context.Context, b *domain.Binding) error

	// GetBinding returns a binding or domain.ErrNotFound.
	GetBinding(ctx context.Context, id string) (*domain.Binding, error)

	// ListBindings lists bindings of a database.
	ListBindings(ctx context.Context, databaseID string) ([]domain.Binding, error)

	// ActiveBindings lists the agent's active bindings within a business.
	ActiveBindings(ctx context.Context, agentID, businessID string) ([]domain.Binding, error)

	// DeleteBinding removes a binding.
	DeleteBinding(ctx context.Context, id string) error
}

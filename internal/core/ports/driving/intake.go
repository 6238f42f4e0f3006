package driving

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// IntakeService accepts uploads and manages data sources.
type IntakeService interface {
	// Submit validates, stores and enqueues an upload.
	Submit(ctx context.Context, upload domain.Upload) (*domain.DataSource, error)

	// Get returns a business's data source.
	Get(ctx context.Context, businessID, dataSourceID string) (*domain.DataSource, error)

	// List returns a business's data sources, optionally for one database.
	List(ctx context.Context, businessID, databaseID string) ([]domain.DataSource, error)

	// Delete removes a data source with its chunks, index entries and bytes.
	Delete(ctx context.Context, businessID, dataSourceID string) error

	// Reprocess enqueues a new ingestion run.
	Reprocess(ctx context.Context, businessID, dataSourceID string) (*domain.Job, error)
}

// IngestionService runs ingestion jobs on a bounded worker pool.
type IngestionService interface {
	// Enqueue creates a pending job for the data source. It fails with
	// domain.ErrIngestionInProgress when a job is pending or running.
	Enqueue(ctx context.Context, dataSourceID string) (*domain.Job, error)

	// Status returns the latest job of a data source.
	Status(ctx context.Context, dataSourceID string) (*domain.Job, error)

	// Start launches the workers. Jobs run under ctx, not the caller's.
	Start(ctx context.Context)

	// Wait blocks until every queued job has finished.
	Wait()

	// Stop stops accepting jobs, drains the queue and waits for workers.
	Stop()
}

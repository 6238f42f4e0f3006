package driven

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// VectorIndex stores embeddings tagged with business, database and data
// source ids and answers filtered similarity queries.
type VectorIndex interface {
	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, points []domain.VectorPoint) error

	// Search returns up to limit points nearest to the vector that match
	// the filter. Scores are cosine similarity.
	Search(ctx context.Context, vector []float32, filter domain.VectorFilter, limit int) ([]domain.VectorHit, error)

	// DeleteBySource removes every point tagged with the data source.
	DeleteBySource(ctx context.Context, dataSourceID string) error

	// DeletePoints removes points by ID.
	DeletePoints(ctx context.Context, ids []string) error

	// Close releases resources.
	Close() error
}

package driving

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// KnowledgeIndex embeds and indexes chunks and answers scoped searches.
type KnowledgeIndex interface {
	// Index embeds chunks and writes them to the vector index. The chunks'
	// VectorRef fields are set on success.
	Index(ctx context.Context, chunks []domain.Chunk) error

	// Search returns ranked hits belonging to the request's business.
	Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error)

	// DeleteSource removes every index entry of a data source.
	DeleteSource(ctx context.Context, dataSourceID string) error

	// DeletePoints removes index entries by vector reference.
	DeletePoints(ctx context.Context, refs []string) error
}

package driving

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// BindingRegistry owns agent database bindings and their resolution cache.
type BindingRegistry interface {
	// Resolve returns the databases the agent may query within the business.
	Resolve(ctx context.Context, agentID, businessID string) (domain.DatabaseSet, error)

	// Authorize reports whether the session may query the database.
	Authorize(session *domain.Session, databaseID string) bool

	// Create adds a binding.
	Create(ctx context.Context, b *domain.Binding) (*domain.Binding, error)

	// List lists a database's bindings.
	List(ctx context.Context, databaseID string) ([]domain.Binding, error)

	// Delete removes a binding.
	Delete(ctx context.Context, bindingID string) error

	// Subscribe registers fn to be called with the agent id after its
	// bindings change.
	Subscribe(fn func(agentID string))
}

// DatabaseService manages business databases.
type DatabaseService interface {
	Create(ctx context.Context, db *domain.BusinessDatabase) (*domain.BusinessDatabase, error)
	Get(ctx context.Context, businessID, databaseID string) (*domain.DatabaseInfo, error)
	List(ctx context.Context, businessID string) ([]domain.BusinessDatabase, error)
	Delete(ctx context.Context, businessID, databaseID string) error

	// Schema returns declared and materialized schema for a database.
	Schema(ctx context.Context, databaseID string) (*domain.SchemaInfo, error)
}

// QueryService runs structured and raw queries against business data.
type QueryService interface {
	Structured(ctx context.Context, databaseID string, q domain.StructuredQuery) (*domain.QueryResult, error)

	// Raw runs a statement after rejecting anything that is not read-only.
	Raw(ctx context.Context, databaseID, statement string) (*domain.QueryResult, error)
}

package driving

import (
	"context"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// Gateway carries out agent operations on behalf of a session.
// Every method except Authenticate fails with domain.ErrNotAuthenticated on
// an unauthenticated session and with domain.ErrAccessDenied for databases
// outside the session's set.
type Gateway interface {
	Authenticate(ctx context.Context, s *domain.Session, agentID, businessID string) (*AuthResult, error)
	ListDatabases(ctx context.Context, s *domain.Session) ([]DatabaseSummary, error)
	QueryDatabase(ctx context.Context, s *domain.Session, databaseID string, q domain.StructuredQuery) (*domain.QueryResult, error)
	SearchKnowledge(ctx context.Context, s *domain.Session, req KnowledgeQuery) ([]domain.SearchResult, error)
	GetSchema(ctx context.Context, s *domain.Session, databaseID string) (*domain.SchemaInfo, error)
	ExecuteQuery(ctx context.Context, s *domain.Session, databaseID, statement string) (*domain.QueryResult, error)
}

// AuthResult is returned by a successful authenticate.
type AuthResult struct {
	AgentID            string `json:"agent_id"`
	BusinessID         string `json:"business_id"`
	AvailableDatabases int    `json:"available_databases"`
}

// DatabaseSummary describes a database visible to an agent.
type DatabaseSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      any    `json:"schema,omitempty"`
}

// KnowledgeQuery is a search_knowledge request.
type KnowledgeQuery struct {
	Query          string
	DatabaseID     string
	Limit          int
	ScoreThreshold float64
}

// ConnectionRegistry is the single owner of live sessions.
type ConnectionRegistry interface {
	// Register adds a session. It fails with domain.ErrTooManyConnections
	// when the registry is full.
	Register(s *domain.Session) error

	// Unregister removes a session and marks it closed.
	Unregister(id string)

	// Lookup returns a live session.
	Lookup(id string) (*domain.Session, bool)

	// Sessions returns snapshots of live sessions.
	Sessions() []domain.SessionInfo

	// RecordQuery counts a dispatched operation.
	RecordQuery()

	// Stats returns totals.
	Stats() domain.ServerStats
}

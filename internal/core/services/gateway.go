package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure AgentGateway implements the interface.
var _ driving.Gateway = (*AgentGateway)(nil)

// MaxSearchLimit caps search_knowledge limits.
const MaxSearchLimit = 50

// AgentGateway carries out agent operations for a session. It checks
// authentication and the session's database set before delegating.
type AgentGateway struct {
	bindings  driving.BindingRegistry
	databases driven.DatabaseStore
	schemas   driving.DatabaseService
	query     driving.QueryService
	index     driving.KnowledgeIndex
}

// NewAgentGateway creates a gateway.
func NewAgentGateway(
	bindings driving.BindingRegistry,
	databases driven.DatabaseStore,
	schemas driving.DatabaseService,
	query driving.QueryService,
	index driving.KnowledgeIndex,
) *AgentGateway {
	return &AgentGateway{
		bindings:  bindings,
		databases: databases,
		schemas:   schemas,
		query:     query,
		index:     index,
	}
}

// Authenticate resolves the agent's databases and authenticates the
// session. A session authenticates once.
func (g *AgentGateway) Authenticate(ctx context.Context, s *domain.Session, agentID, businessID string) (*driving.AuthResult, error) {
	switch s.State() {
	case domain.SessionAuthenticated:
		return nil, fmt.Errorf("%w: session is already authenticated", domain.ErrProtocol)
	case domain.SessionClosed:
		return nil, fmt.Errorf("%w: session is closed", domain.ErrProtocol)
	}
	if agentID == "" || businessID == "" {
		return nil, fmt.Errorf("%w: missing agent_id or business_id", domain.ErrInvalidInput)
	}

	set, err := g.bindings.Resolve(ctx, agentID, businessID)
	if err != nil {
		return nil, err
	}
	s.Authenticate(agentID, businessID, set)
	logger.Info("session %s authenticated as agent %s of business %s (%d databases)", s.ID, agentID, businessID, set.Len())

	return &driving.AuthResult{
		AgentID:            agentID,
		BusinessID:         businessID,
		AvailableDatabases: set.Len(),
	}, nil
}

// ListDatabases describes the session's databases that still exist.
func (g *AgentGateway) ListDatabases(ctx context.Context, s *domain.Session) ([]driving.DatabaseSummary, error) {
	if err := requireAuth(s); err != nil {
		return nil, err
	}
	_, businessID := s.Identity()

	out := []driving.DatabaseSummary{}
	for _, id := range s.Databases().IDs() {
		db, err := g.databases.GetDatabase(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if db.BusinessID != businessID {
			continue
		}
		out = append(out, driving.DatabaseSummary{
			ID:          db.ID,
			Name:        db.Name,
			Description: db.Description,
			Schema:      decodeSchema(db.Schema),
		})
	}
	return out, nil
}

// QueryDatabase runs a structured query on an authorized database.
func (g *AgentGateway) QueryDatabase(ctx context.Context, s *domain.Session, databaseID string, q domain.StructuredQuery) (*domain.QueryResult, error) {
	if err := g.authorize(ctx, s, databaseID); err != nil {
		return nil, err
	}
	return g.query.Structured(ctx, databaseID, q)
}

// SearchKnowledge searches one authorized database, or all of them when no
// database is named.
func (g *AgentGateway) SearchKnowledge(ctx context.Context, s *domain.Session, req driving.KnowledgeQuery) ([]domain.SearchResult, error) {
	if err := requireAuth(s); err != nil {
		return nil, err
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}

	var ids []string
	if req.DatabaseID != "" {
		if err := g.authorize(ctx, s, req.DatabaseID); err != nil {
			return nil, err
		}
		ids = []string{req.DatabaseID}
	} else {
		ids = s.Databases().IDs()
	}
	if len(ids) == 0 {
		return []domain.SearchResult{}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = domain.DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	_, businessID := s.Identity()
	return g.index.Search(ctx, domain.SearchRequest{
		Query:          req.Query,
		BusinessID:     businessID,
		DatabaseIDs:    ids,
		Limit:          limit,
		ScoreThreshold: req.ScoreThreshold,
	})
}

// GetSchema describes an authorized database.
func (g *AgentGateway) GetSchema(ctx context.Context, s *domain.Session, databaseID string) (*domain.SchemaInfo, error) {
	if err := g.authorize(ctx, s, databaseID); err != nil {
		return nil, err
	}
	return g.schemas.Schema(ctx, databaseID)
}

// ExecuteQuery runs a read-only statement on an authorized database.
func (g *AgentGateway) ExecuteQuery(ctx context.Context, s *domain.Session, databaseID, statement string) (*domain.QueryResult, error) {
	if err := g.authorize(ctx, s, databaseID); err != nil {
		return nil, err
	}
	return g.query.Raw(ctx, databaseID, statement)
}

func requireAuth(s *domain.Session) error {
	if s == nil || s.State() != domain.SessionAuthenticated {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// authorize fails with ErrAccessDenied for unbound, deleted and foreign
// databases alike.
func (g *AgentGateway) authorize(ctx context.Context, s *domain.Session, databaseID string) error {
	if err := requireAuth(s); err != nil {
		return err
	}
	if databaseID == "" {
		return fmt.Errorf("%w: database_id is required", domain.ErrInvalidInput)
	}
	if !g.bindings.Authorize(s, databaseID) {
		return domain.ErrAccessDenied
	}
	db, err := g.databases.GetDatabase(ctx, databaseID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrAccessDenied
	}
	if err != nil {
		return err
	}
	if _, businessID := s.Identity(); db.BusinessID != businessID {
		return domain.ErrAccessDenied
	}
	return nil
}

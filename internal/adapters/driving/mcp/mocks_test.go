package mcp

import (
	"context"
	"sync"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
)

// mockGateway is a mock implementation of driving.Gateway.
type mockGateway struct {
	mu sync.Mutex

	databases []driving.DatabaseSummary
	allowed   map[string]bool
	result    *domain.QueryResult
	results   []domain.SearchResult
	schema    *domain.SchemaInfo
	authErr   error
	err       error

	authCalls   int
	lastQuery   domain.StructuredQuery
	lastSearch  driving.KnowledgeQuery
	lastSQL     string
	lastAgentID string
}

func (m *mockGateway) Authenticate(
	_ context.Context,
	s *domain.Session,
	agentID, businessID string,
) (*driving.AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++
	m.lastAgentID = agentID
	if m.authErr != nil {
		return nil, m.authErr
	}
	ids := make([]string, 0, len(m.allowed))
	for id := range m.allowed {
		ids = append(ids, id)
	}
	s.Authenticate(agentID, businessID, domain.NewDatabaseSet(ids...))
	return &driving.AuthResult{AgentID: agentID, BusinessID: businessID, AvailableDatabases: len(m.allowed)}, nil
}

func (m *mockGateway) ListDatabases(_ context.Context, _ *domain.Session) ([]driving.DatabaseSummary, error) {
	return m.databases, m.err
}

func (m *mockGateway) QueryDatabase(
	_ context.Context,
	s *domain.Session,
	databaseID string,
	q domain.StructuredQuery,
) (*domain.QueryResult, error) {
	m.mu.Lock()
	m.lastQuery = q
	m.mu.Unlock()
	if !s.Authorized(databaseID) {
		return nil, domain.ErrAccessDenied
	}
	return m.result, m.err
}

func (m *mockGateway) SearchKnowledge(
	_ context.Context,
	_ *domain.Session,
	req driving.KnowledgeQuery,
) ([]domain.SearchResult, error) {
	m.mu.Lock()
	m.lastSearch = req
	m.mu.Unlock()
	return m.results, m.err
}

func (m *mockGateway) GetSchema(_ context.Context, s *domain.Session, databaseID string) (*domain.SchemaInfo, error) {
	if !s.Authorized(databaseID) {
		return nil, domain.ErrAccessDenied
	}
	return m.schema, m.err
}

func (m *mockGateway) ExecuteQuery(
	_ context.Context,
	s *domain.Session,
	databaseID, statement string,
) (*domain.QueryResult, error) {
	m.mu.Lock()
	m.lastSQL = statement
	m.mu.Unlock()
	if !s.Authorized(databaseID) {
		return nil, domain.ErrAccessDenied
	}
	return m.result, m.err
}

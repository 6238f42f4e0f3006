package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
)

// Ensure QueryService implements the interface.
var _ driving.QueryService = (*QueryService)(nil)

// QueryConfig bounds query execution.
type QueryConfig struct {
	Timeout time.Duration
	MaxRows int
}

// QueryService runs structured and raw queries against the query store.
type QueryService struct {
	store     driven.QueryStore
	databases driven.DatabaseStore
	cfg       QueryConfig
}

// NewQueryService creates a query service.
func NewQueryService(store driven.QueryStore, databases driven.DatabaseStore, cfg QueryConfig) *QueryService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = domain.DefaultQueryLimit
	}
	return &QueryService{store: store, databases: databases, cfg: cfg}
}

// Structured runs a structured query.
func (s *QueryService) Structured(ctx context.Context, databaseID string, q domain.StructuredQuery) (*domain.QueryResult, error) {
	if _, err := s.databases.GetDatabase(ctx, databaseID); err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > s.cfg.MaxRows {
		q.Limit = s.cfg.MaxRows
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	res, err := s.store.ExecuteStructured(callCtx, databaseID, q)
	if err != nil {
		return nil, classifyQuery(ctx, err)
	}
	return res, nil
}

// Raw checks the statement is read-only and runs it.
func (s *QueryService) Raw(ctx context.Context, databaseID, statement string) (*domain.QueryResult, error) {
	if err := CheckReadOnly(statement); err != nil {
		return nil, err
	}
	if _, err := s.databases.GetDatabase(ctx, databaseID); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	res, err := s.store.ExecuteRaw(callCtx, databaseID, statement, s.cfg.MaxRows)
	if err != nil {
		return nil, classifyQuery(ctx, err)
	}
	return res, nil
}

func classifyQuery(parent context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: query: %w", domain.ErrUpstreamTimeout, err)
	default:
		return err
	}
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure DatabaseService implements the interface.
var _ driving.DatabaseService = (*DatabaseService)(nil)

// DatabaseService manages business databases.
type DatabaseService struct {
	databases driven.DatabaseStore
	sources   driven.DataSourceStore
	jobs      driven.JobStore
	bindings  driven.BindingStore
	query     driven.QueryStore
	blobs     driven.BlobStore
	index     driving.KnowledgeIndex
}

// NewDatabaseService creates a database service.
func NewDatabaseService(
	databases driven.DatabaseStore,
	sources driven.DataSourceStore,
	jobs driven.JobStore,
	bindings driven.BindingStore,
	query driven.QueryStore,
	blobs driven.BlobStore,
	index driving.KnowledgeIndex,
) *DatabaseService {
	return &DatabaseService{
		databases: databases,
		sources:   sources,
		jobs:      jobs,
		bindings:  bindings,
		query:     query,
		blobs:     blobs,
		index:     index,
	}
}

// Create validates and stores a database.
func (s *DatabaseService) Create(ctx context.Context, db *domain.BusinessDatabase) (*domain.BusinessDatabase, error) {
	if db.BusinessID == "" || db.Name == "" {
		return nil, fmt.Errorf("%w: business id and name are required", domain.ErrInvalidInput)
	}
	if err := domain.ValidateSchema(db.Schema); err != nil {
		return nil, err
	}

	created := *db
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if created.Status == "" {
		created.Status = domain.DatabaseActive
	}
	if created.Status != domain.DatabaseActive && created.Status != domain.DatabaseInactive {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, created.Status)
	}
	now := time.Now().UTC()
	created.CreatedAt = now
	created.UpdatedAt = now

	if err := s.databases.CreateDatabase(ctx, &created); err != nil {
		return nil, err
	}
	logger.Info("created database %s (%s) for business %s", created.ID, created.Name, created.BusinessID)
	return &created, nil
}

// Get returns a business's database with statistics.
func (s *DatabaseService) Get(ctx context.Context, businessID, databaseID string) (*domain.DatabaseInfo, error) {
	db, err := s.owned(ctx, businessID, databaseID)
	if err != nil {
		return nil, err
	}

	tables, err := s.query.Tables(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	sources, err := s.sources.ListDataSources(ctx, businessID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	bindings, err := s.bindings.ListBindings(ctx, databaseID)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	active := 0
	for _, b := range bindings {
		if b.Active {
			active++
		}
	}

	return &domain.DatabaseInfo{
		BusinessDatabase: *db,
		Statistics: domain.DatabaseStats{
			Tables:      len(tables),
			DataSources: len(sources),
			Bindings:    active,
		},
	}, nil
}

// List lists a business's databases.
func (s *DatabaseService) List(ctx context.Context, businessID string) ([]domain.BusinessDatabase, error) {
	return s.databases.ListDatabases(ctx, businessID)
}

// Delete removes a database, its data sources, their index entries, stored
// bytes and materialized tables. Bindings are weak references and stay;
// they stop authorizing anything once the database is gone. It fails with
// domain.ErrIngestionInProgress while any data source has a pending or
// running job.
func (s *DatabaseService) Delete(ctx context.Context, businessID, databaseID string) error {
	if _, err := s.owned(ctx, businessID, databaseID); err != nil {
		return err
	}
	sources, err := s.sources.ListDataSources(ctx, businessID, databaseID)
	if err != nil {
		return fmt.Errorf("list data sources: %w", err)
	}
	for _, ds := range sources {
		job, err := s.jobs.LatestJob(ctx, ds.ID)
		switch {
		case err == nil && job.State.Active():
			return fmt.Errorf("%w: job %s of %s is %s", domain.ErrIngestionInProgress, job.ID, ds.ID, job.State)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("latest job of %s: %w", ds.ID, err)
		}
	}
	for _, ds := range sources {
		if err := s.index.DeleteSource(ctx, ds.ID); err != nil {
			return err
		}
		if err := s.blobs.Delete(ctx, ds.StoragePath); err != nil {
			logger.Warn("failed to delete stored file of %s: %v", ds.ID, err)
		}
	}
	if err := s.query.DropDatabase(ctx, databaseID); err != nil {
		return fmt.Errorf("drop query database: %w", err)
	}
	if err := s.databases.DeleteDatabase(ctx, databaseID); err != nil {
		return err
	}
	logger.Info("deleted database %s with %d data sources", databaseID, len(sources))
	return nil
}

// Schema returns the declared schema, materialized tables and data sources.
func (s *DatabaseService) Schema(ctx context.Context, databaseID string) (*domain.SchemaInfo, error) {
	db, err := s.databases.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}

	info := &domain.SchemaInfo{
		DatabaseID:  db.ID,
		Name:        db.Name,
		Declared:    decodeSchema(db.Schema),
		DataSources: []domain.DataSourceInfo{},
	}
	if info.Tables, err = s.query.Tables(ctx, databaseID); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	sources, err := s.sources.ListDataSources(ctx, db.BusinessID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	for _, ds := range sources {
		info.DataSources = append(info.DataSources, domain.DataSourceInfo{
			ID:         ds.ID,
			Name:       ds.Name,
			Kind:       ds.Kind,
			Status:     ds.Status,
			ChunkCount: ds.ChunkCount,
		})
	}
	return info, nil
}

// owned returns the database when it belongs to the business.
func (s *DatabaseService) owned(ctx context.Context, businessID, databaseID string) (*domain.BusinessDatabase, error) {
	db, err := s.databases.GetDatabase(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	if db.BusinessID != businessID {
		return nil, domain.ErrNotFound
	}
	return db, nil
}

func decodeSchema(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

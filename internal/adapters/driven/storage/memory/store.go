package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Store implements the interfaces.
var (
	_ driven.DataSourceStore = (*Store)(nil)
	_ driven.ChunkStore      = (*Store)(nil)
	_ driven.JobStore        = (*Store)(nil)
	_ driven.DatabaseStore   = (*Store)(nil)
	_ driven.BindingStore    = (*Store)(nil)
)

// Store keeps every metadata entity in maps guarded by one lock, so
// cascading deletes are atomic like their SQL counterparts.
type Store struct {
	mu          sync.RWMutex
	dataSources map[string]domain.DataSource
	chunks      map[string][]domain.Chunk
	jobs        map[string]domain.Job
	jobOrder    []string
	databases   map[string]domain.BusinessDatabase
	bindings    map[string]domain.Binding
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		dataSources: make(map[string]domain.DataSource),
		chunks:      make(map[string][]domain.Chunk),
		jobs:        make(map[string]domain.Job),
		databases:   make(map[string]domain.BusinessDatabase),
		bindings:    make(map[string]domain.Binding),
	}
}

// ==================== Data Sources ====================

// CreateDataSource inserts a data source.
func (s *Store) CreateDataSource(_ context.Context, ds *domain.DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.databases[ds.DatabaseID]; !ok {
		return fmt.Errorf("%w: database %s", domain.ErrNotFound, ds.DatabaseID)
	}
	for _, existing := range s.dataSources {
		if existing.BusinessID == ds.BusinessID && existing.ContentHash == ds.ContentHash {
			return domain.ErrDuplicateContent
		}
	}
	s.dataSources[ds.ID] = *ds
	return nil
}

// GetDataSource retrieves a data source by ID.
func (s *Store) GetDataSource(_ context.Context, id string) (*domain.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.dataSources[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ds, nil
}

// FindByHash retrieves the business's data source with the hash.
func (s *Store) FindByHash(_ context.Context, businessID, hash string) (*domain.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ds := range s.dataSources {
		if ds.BusinessID == businessID && ds.ContentHash == hash {
			return &ds, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ListDataSources returns a business's data sources, newest first.
func (s *Store) ListDataSources(_ context.Context, businessID, databaseID string) ([]domain.DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DataSource
	for _, ds := range s.dataSources {
		if ds.BusinessID != businessID || (databaseID != "" && ds.DatabaseID != databaseID) {
			continue
		}
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateStatus sets status, error and chunk count.
func (s *Store) UpdateStatus(_ context.Context, id string, status domain.DataSourceStatus, errMsg string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.dataSources[id]
	if !ok {
		return domain.ErrNotFound
	}
	ds.Status = status
	ds.Error = errMsg
	ds.ChunkCount = chunkCount
	ds.UpdatedAt = time.Now()
	s.dataSources[id] = ds
	return nil
}

// DeleteDataSource removes a data source with its chunks and jobs.
func (s *Store) DeleteDataSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteDataSourceLocked(id)
	return nil
}

func (s *Store) deleteDataSourceLocked(id string) {
	delete(s.dataSources, id)
	delete(s.chunks, id)
	order := s.jobOrder[:0]
	for _, jobID := range s.jobOrder {
		if s.jobs[jobID].DataSourceID == id {
			delete(s.jobs, jobID)
			continue
		}
		order = append(order, jobID)
	}
	s.jobOrder = order
}

// ==================== Chunks ====================

// ReplaceChunks swaps the data source's chunks.
func (s *Store) ReplaceChunks(_ context.Context, dataSourceID string, chunks []domain.Chunk) error {
	seen := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		if c.DataSourceID != dataSourceID {
			return fmt.Errorf("%w: chunk %s belongs to %s", domain.ErrInvalidInput, c.ID, c.DataSourceID)
		}
		if seen[c.ContentHash] {
			return fmt.Errorf("saving chunk %d: %w", c.Index, domain.ErrDuplicateContent)
		}
		seen[c.ContentHash] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dataSources[dataSourceID]; !ok {
		return fmt.Errorf("%w: data source %s", domain.ErrNotFound, dataSourceID)
	}
	cp := make([]domain.Chunk, len(chunks))
	copy(cp, chunks)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Index < cp[j].Index })
	s.chunks[dataSourceID] = cp
	return nil
}

// GetChunks returns the data source's chunks ordered by index.
func (s *Store) GetChunks(_ context.Context, dataSourceID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks := s.chunks[dataSourceID]
	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)
	return out, nil
}

// CountChunks returns the data source's chunk count.
func (s *Store) CountChunks(_ context.Context, dataSourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[dataSourceID]), nil
}

// ==================== Jobs ====================

// SaveJob inserts or updates a job.
func (s *Store) SaveJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.jobOrder = append(s.jobOrder, job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

// LatestJob returns the most recently created job of a data source.
func (s *Store) LatestJob(_ context.Context, dataSourceID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		job := s.jobs[s.jobOrder[i]]
		if job.DataSourceID == dataSourceID {
			return &job, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ActiveJobs returns pending and running jobs in creation order.
func (s *Store) ActiveJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []domain.Job
	for _, id := range s.jobOrder {
		if job := s.jobs[id]; job.State.Active() {
			active = append(active, job)
		}
	}
	return active, nil
}

// ==================== Databases ====================

// CreateDatabase inserts a business database.
func (s *Store) CreateDatabase(_ context.Context, db *domain.BusinessDatabase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases[db.ID] = *db
	return nil
}

// GetDatabase retrieves a business database by ID.
func (s *Store) GetDatabase(_ context.Context, id string) (*domain.BusinessDatabase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.databases[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &db, nil
}

// ListDatabases returns a business's databases ordered by name.
func (s *Store) ListDatabases(_ context.Context, businessID string) ([]domain.BusinessDatabase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.BusinessDatabase
	for _, db := range s.databases {
		if db.BusinessID == businessID {
			out = append(out, db)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteDatabase removes a database and its data sources.
func (s *Store) DeleteDatabase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.databases, id)
	for dsID, ds := range s.dataSources {
		if ds.DatabaseID == id {
			s.deleteDataSourceLocked(dsID)
		}
	}
	return nil
}

// ==================== Bindings ====================

// CreateBinding inserts a binding, rejecting a second active edge.
func (s *Store) CreateBinding(_ context.Context, b *domain.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Active {
		for _, existing := range s.bindings {
			if existing.Active && existing.AgentID == b.AgentID && existing.DatabaseID == b.DatabaseID {
				return domain.ErrDuplicateBinding
			}
		}
	}
	s.bindings[b.ID] = *b
	return nil
}

// GetBinding retrieves a binding by ID.
func (s *Store) GetBinding(_ context.Context, id string) (*domain.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

// ListBindings returns a database's bindings, oldest first.
func (s *Store) ListBindings(_ context.Context, databaseID string) ([]domain.Binding, error) {
	return s.filterBindings(func(b domain.Binding) bool { return b.DatabaseID == databaseID }), nil
}

// ActiveBindings returns the agent's active bindings within a business.
func (s *Store) ActiveBindings(_ context.Context, agentID, businessID string) ([]domain.Binding, error) {
	return s.filterBindings(func(b domain.Binding) bool {
		return b.Active && b.AgentID == agentID && b.BusinessID == businessID
	}), nil
}

// DeleteBinding removes a binding.
func (s *Store) DeleteBinding(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.bindings, id)
	return nil
}

func (s *Store) filterBindings(keep func(domain.Binding) bool) []domain.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Binding
	for _, b := range s.bindings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

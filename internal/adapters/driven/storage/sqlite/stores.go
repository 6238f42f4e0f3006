package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// ==================== Data Source Store ====================

// dataSourceStore implements driven.DataSourceStore.
type dataSourceStore struct {
	store *Store
}

var _ driven.DataSourceStore = (*dataSourceStore)(nil)

const dataSourceColumns = `id, business_id, database_id, name, kind, format, size, content_hash,
	storage_path, status, error, chunk_count, created_at, updated_at`

// CreateDataSource inserts a data source.
func (s *dataSourceStore) CreateDataSource(ctx context.Context, ds *domain.DataSource) error {
	_, err := s.store.db.NamedExecContext(ctx, `
		INSERT INTO data_sources (`+dataSourceColumns+`)
		VALUES (:id, :business_id, :database_id, :name, :kind, :format, :size, :content_hash,
			:storage_path, :status, :error, :chunk_count, :created_at, :updated_at)
	`, newDataSourceRow(ds))
	if isUniqueViolation(err) {
		return domain.ErrDuplicateContent
	}
	if err != nil {
		return fmt.Errorf("saving data source: %w", err)
	}
	return nil
}

// GetDataSource retrieves a data source by ID.
func (s *dataSourceStore) GetDataSource(ctx context.Context, id string) (*domain.DataSource, error) {
	var row dataSourceRow
	if err := s.store.db.GetContext(ctx, &row, `SELECT `+dataSourceColumns+` FROM data_sources WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "data source")
	}
	ds := row.domain()
	return &ds, nil
}

// FindByHash retrieves the business's data source with the content hash.
func (s *dataSourceStore) FindByHash(ctx context.Context, businessID, hash string) (*domain.DataSource, error) {
	var row dataSourceRow
	if err := s.store.db.GetContext(ctx, &row,
		`SELECT `+dataSourceColumns+` FROM data_sources WHERE business_id = ? AND content_hash = ?`,
		businessID, hash); err != nil {
		return nil, notFound(err, "data source")
	}
	ds := row.domain()
	return &ds, nil
}

// ListDataSources returns a business's data sources, newest first.
func (s *dataSourceStore) ListDataSources(ctx context.Context, businessID, databaseID string) ([]domain.DataSource, error) {
	query := `SELECT ` + dataSourceColumns + ` FROM data_sources WHERE business_id = ?`
	args := []any{businessID}
	if databaseID != "" {
		query += ` AND database_id = ?`
		args = append(args, databaseID)
	}
	query += ` ORDER BY created_at DESC, id`

	var rows []dataSourceRow
	if err := s.store.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying data sources: %w", err)
	}
	out := make([]domain.DataSource, len(rows))
	for i, r := range rows {
		out[i] = r.domain()
	}
	return out, nil
}

// UpdateStatus sets status, error and chunk count.
func (s *dataSourceStore) UpdateStatus(ctx context.Context, id string, status domain.DataSourceStatus, errMsg string, chunkCount int) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE data_sources SET status = ?, error = ?, chunk_count = ?, updated_at = ?
		WHERE id = ?
	`, string(status), errMsg, chunkCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating data source status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteDataSource removes a data source. Chunks and jobs cascade.
func (s *dataSourceStore) DeleteDataSource(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM data_sources WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting data source: %w", err)
	}
	return nil
}

// ==================== Chunk Store ====================

// chunkStore implements driven.ChunkStore.
type chunkStore struct {
	store *Store
}

var _ driven.ChunkStore = (*chunkStore)(nil)

// ReplaceChunks swaps the data source's chunks in one transaction.
func (s *chunkStore) ReplaceChunks(ctx context.Context, dataSourceID string, chunks []domain.Chunk) error {
	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE data_source_id = ?`, dataSourceID); err != nil {
		return fmt.Errorf("clearing chunks: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `
		INSERT INTO chunks (id, data_source_id, business_id, database_id, content, content_hash,
			position, metadata, vector_ref, created_at)
		VALUES (:id, :data_source_id, :business_id, :database_id, :content, :content_hash,
			:position, :metadata, :vector_ref, :created_at)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		if chunk.DataSourceID != dataSourceID {
			return fmt.Errorf("%w: chunk %s belongs to %s", domain.ErrInvalidInput, chunk.ID, chunk.DataSourceID)
		}
		row, err := newChunkRow(chunk)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("saving chunk %d: %w", chunk.Index, domain.ErrDuplicateContent)
			}
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetChunks returns the data source's chunks ordered by position.
func (s *chunkStore) GetChunks(ctx context.Context, dataSourceID string) ([]domain.Chunk, error) {
	var rows []chunkRow
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT id, data_source_id, business_id, database_id, content, content_hash,
			position, metadata, vector_ref, created_at
		FROM chunks WHERE data_source_id = ?
		ORDER BY position
	`, dataSourceID); err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(rows))
	for _, r := range rows {
		c, err := r.domain()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// CountChunks returns the data source's chunk count.
func (s *chunkStore) CountChunks(ctx context.Context, dataSourceID string) (int, error) {
	var n int
	if err := s.store.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks WHERE data_source_id = ?`, dataSourceID); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// ==================== Job Store ====================

// jobStore implements driven.JobStore.
type jobStore struct {
	store *Store
}

var _ driven.JobStore = (*jobStore)(nil)

const jobColumns = `id, data_source_id, state, progress, error, chunk_count, created_at, started_at, finished_at`

// SaveJob inserts or updates a job.
func (s *jobStore) SaveJob(ctx context.Context, job *domain.Job) error {
	_, err := s.store.db.NamedExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (:id, :data_source_id, :state, :progress, :error, :chunk_count, :created_at, :started_at, :finished_at)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			progress = excluded.progress,
			error = excluded.error,
			chunk_count = excluded.chunk_count,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, newJobRow(job))
	if err != nil {
		return fmt.Errorf("saving job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *jobStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	if err := s.store.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "job")
	}
	job := row.domain()
	return &job, nil
}

// LatestJob returns the newest job of a data source.
func (s *jobStore) LatestJob(ctx context.Context, dataSourceID string) (*domain.Job, error) {
	var row jobRow
	if err := s.store.db.GetContext(ctx, &row, `
		SELECT `+jobColumns+` FROM jobs WHERE data_source_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, dataSourceID); err != nil {
		return nil, notFound(err, "job")
	}
	job := row.domain()
	return &job, nil
}

// ActiveJobs returns pending and running jobs, oldest first.
func (s *jobStore) ActiveJobs(ctx context.Context) ([]domain.Job, error) {
	var rows []jobRow
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT `+jobColumns+` FROM jobs WHERE state IN (?, ?)
		ORDER BY created_at, rowid
	`, string(domain.JobPending), string(domain.JobRunning)); err != nil {
		return nil, fmt.Errorf("listing active jobs: %w", err)
	}
	jobs := make([]domain.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.domain())
	}
	return jobs, nil
}

// ==================== Database Store ====================

// databaseStore implements driven.DatabaseStore.
type databaseStore struct {
	store *Store
}

var _ driven.DatabaseStore = (*databaseStore)(nil)

const databaseColumns = `id, business_id, name, description, schema_def, status, created_at, updated_at`

// CreateDatabase inserts a business database.
func (s *databaseStore) CreateDatabase(ctx context.Context, db *domain.BusinessDatabase) error {
	_, err := s.store.db.NamedExecContext(ctx, `
		INSERT INTO business_databases (`+databaseColumns+`)
		VALUES (:id, :business_id, :name, :description, :schema_def, :status, :created_at, :updated_at)
	`, newDatabaseRow(db))
	if err != nil {
		return fmt.Errorf("saving database: %w", err)
	}
	return nil
}

// GetDatabase retrieves a business database by ID.
func (s *databaseStore) GetDatabase(ctx context.Context, id string) (*domain.BusinessDatabase, error) {
	var row databaseRow
	if err := s.store.db.GetContext(ctx, &row, `SELECT `+databaseColumns+` FROM business_databases WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "database")
	}
	db := row.domain()
	return &db, nil
}

// ListDatabases returns a business's databases ordered by name.
func (s *databaseStore) ListDatabases(ctx context.Context, businessID string) ([]domain.BusinessDatabase, error) {
	var rows []databaseRow
	if err := s.store.db.SelectContext(ctx, &rows,
		`SELECT `+databaseColumns+` FROM business_databases WHERE business_id = ? ORDER BY name, id`,
		businessID); err != nil {
		return nil, fmt.Errorf("querying databases: %w", err)
	}
	out := make([]domain.BusinessDatabase, len(rows))
	for i, r := range rows {
		out[i] = r.domain()
	}
	return out, nil
}

// DeleteDatabase removes a business database. Data sources cascade.
func (s *databaseStore) DeleteDatabase(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM business_databases WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting database: %w", err)
	}
	return nil
}

// ==================== Binding Store ====================

// bindingStore implements driven.BindingStore.
type bindingStore struct {
	store *Store
}

var _ driven.BindingStore = (*bindingStore)(nil)

const bindingColumns = `id, agent_id, business_id, database_id, config, active, created_at`

// CreateBinding inserts a binding. The partial unique index rejects a
// second active binding for the same agent and database.
func (s *bindingStore) CreateBinding(ctx context.Context, b *domain.Binding) error {
	_, err := s.store.db.NamedExecContext(ctx, `
		INSERT INTO agent_bindings (`+bindingColumns+`)
		VALUES (:id, :agent_id, :business_id, :database_id, :config, :active, :created_at)
	`, newBindingRow(b))
	if isUniqueViolation(err) {
		return domain.ErrDuplicateBinding
	}
	if err != nil {
		return fmt.Errorf("saving binding: %w", err)
	}
	return nil
}

// GetBinding retrieves a binding by ID.
func (s *bindingStore) GetBinding(ctx context.Context, id string) (*domain.Binding, error) {
	var row bindingRow
	if err := s.store.db.GetContext(ctx, &row, `SELECT `+bindingColumns+` FROM agent_bindings WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "binding")
	}
	b := row.domain()
	return &b, nil
}

// ListBindings returns a database's bindings, oldest first.
func (s *bindingStore) ListBindings(ctx context.Context, databaseID string) ([]domain.Binding, error) {
	var rows []bindingRow
	if err := s.store.db.SelectContext(ctx, &rows,
		`SELECT `+bindingColumns+` FROM agent_bindings WHERE database_id = ? ORDER BY created_at, id`,
		databaseID); err != nil {
		return nil, fmt.Errorf("querying bindings: %w", err)
	}
	out := make([]domain.Binding, len(rows))
	for i, r := range rows {
		out[i] = r.domain()
	}
	return out, nil
}

// ActiveBindings returns the agent's active bindings within a business.
func (s *bindingStore) ActiveBindings(ctx context.Context, agentID, businessID string) ([]domain.Binding, error) {
	var rows []bindingRow
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT `+bindingColumns+` FROM agent_bindings
		WHERE agent_id = ? AND business_id = ? AND active = 1
		ORDER BY created_at, id
	`, agentID, businessID); err != nil {
		return nil, fmt.Errorf("querying active bindings: %w", err)
	}
	out := make([]domain.Binding, len(rows))
	for i, r := range rows {
		out[i] = r.domain()
	}
	return out, nil
}

// DeleteBinding removes a binding.
func (s *bindingStore) DeleteBinding(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, `DELETE FROM agent_bindings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting binding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

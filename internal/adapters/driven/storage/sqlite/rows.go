package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

type dataSourceRow struct {
	ID          string    `db:"id"`
	BusinessID  string    `db:"business_id"`
	DatabaseID  string    `db:"database_id"`
	Name        string    `db:"name"`
	Kind        string    `db:"kind"`
	Format      string    `db:"format"`
	Size        int64     `db:"size"`
	ContentHash string    `db:"content_hash"`
	StoragePath string    `db:"storage_path"`
	Status      string    `db:"status"`
	Error       string    `db:"error"`
	ChunkCount  int       `db:"chunk_count"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func newDataSourceRow(ds *domain.DataSource) dataSourceRow {
	return dataSourceRow{
		ID:          ds.ID,
		BusinessID:  ds.BusinessID,
		DatabaseID:  ds.DatabaseID,
		Name:        ds.Name,
		Kind:        string(ds.Kind),
		Format:      ds.Format,
		Size:        ds.Size,
		ContentHash: ds.ContentHash,
		StoragePath: ds.StoragePath,
		Status:      string(ds.Status),
		Error:       ds.Error,
		ChunkCount:  ds.ChunkCount,
		CreatedAt:   ds.CreatedAt.UTC(),
		UpdatedAt:   ds.UpdatedAt.UTC(),
	}
}

func (r dataSourceRow) domain() domain.DataSource {
	return domain.DataSource{
		ID:          r.ID,
		BusinessID:  r.BusinessID,
		DatabaseID:  r.DatabaseID,
		Name:        r.Name,
		Kind:        domain.SourceKind(r.Kind),
		Format:      r.Format,
		Size:        r.Size,
		ContentHash: r.ContentHash,
		StoragePath: r.StoragePath,
		Status:      domain.DataSourceStatus(r.Status),
		Error:       r.Error,
		ChunkCount:  r.ChunkCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type chunkRow struct {
	ID           string    `db:"id"`
	DataSourceID string    `db:"data_source_id"`
	BusinessID   string    `db:"business_id"`
	DatabaseID   string    `db:"database_id"`
	Content      string    `db:"content"`
	ContentHash  string    `db:"content_hash"`
	Position     int       `db:"position"`
	Metadata     string    `db:"metadata"`
	VectorRef    string    `db:"vector_ref"`
	CreatedAt    time.Time `db:"created_at"`
}

func newChunkRow(c domain.Chunk) (chunkRow, error) {
	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return chunkRow{}, fmt.Errorf("marshalling chunk metadata: %w", err)
	}
	return chunkRow{
		ID:           c.ID,
		DataSourceID: c.DataSourceID,
		BusinessID:   c.BusinessID,
		DatabaseID:   c.DatabaseID,
		Content:      c.Content,
		ContentHash:  c.ContentHash,
		Position:     c.Index,
		Metadata:     string(meta),
		VectorRef:    c.VectorRef,
		CreatedAt:    c.CreatedAt.UTC(),
	}, nil
}

func (r chunkRow) domain() (domain.Chunk, error) {
	var meta map[string]any
	if r.Metadata != "" && r.Metadata != "null" {
		if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshalling chunk metadata: %w", err)
		}
	}
	return domain.Chunk{
		ID:           r.ID,
		DataSourceID: r.DataSourceID,
		BusinessID:   r.BusinessID,
		DatabaseID:   r.DatabaseID,
		Content:      r.Content,
		ContentHash:  r.ContentHash,
		Index:        r.Position,
		Metadata:     meta,
		VectorRef:    r.VectorRef,
		CreatedAt:    r.CreatedAt,
	}, nil
}

type jobRow struct {
	ID           string       `db:"id"`
	DataSourceID string       `db:"data_source_id"`
	State        string       `db:"state"`
	Progress     int          `db:"progress"`
	Error        string       `db:"error"`
	ChunkCount   int          `db:"chunk_count"`
	CreatedAt    time.Time    `db:"created_at"`
	StartedAt    sql.NullTime `db:"started_at"`
	FinishedAt   sql.NullTime `db:"finished_at"`
}

func newJobRow(j *domain.Job) jobRow {
	return jobRow{
		ID:           j.ID,
		DataSourceID: j.DataSourceID,
		State:        string(j.State),
		Progress:     j.Progress,
		Error:        j.Error,
		ChunkCount:   j.ChunkCount,
		CreatedAt:    j.CreatedAt.UTC(),
		StartedAt:    nullTime(j.StartedAt),
		FinishedAt:   nullTime(j.FinishedAt),
	}
}

func (r jobRow) domain() domain.Job {
	return domain.Job{
		ID:           r.ID,
		DataSourceID: r.DataSourceID,
		State:        domain.JobState(r.State),
		Progress:     r.Progress,
		Error:        r.Error,
		ChunkCount:   r.ChunkCount,
		CreatedAt:    r.CreatedAt,
		StartedAt:    timePtr(r.StartedAt),
		FinishedAt:   timePtr(r.FinishedAt),
	}
}

type databaseRow struct {
	ID          string    `db:"id"`
	BusinessID  string    `db:"business_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Schema      string    `db:"schema_def"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func newDatabaseRow(db *domain.BusinessDatabase) databaseRow {
	return databaseRow{
		ID:          db.ID,
		BusinessID:  db.BusinessID,
		Name:        db.Name,
		Description: db.Description,
		Schema:      string(db.Schema),
		Status:      string(db.Status),
		CreatedAt:   db.CreatedAt.UTC(),
		UpdatedAt:   db.UpdatedAt.UTC(),
	}
}

func (r databaseRow) domain() domain.BusinessDatabase {
	db := domain.BusinessDatabase{
		ID:          r.ID,
		BusinessID:  r.BusinessID,
		Name:        r.Name,
		Description: r.Description,
		Status:      domain.DatabaseStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Schema != "" {
		db.Schema = json.RawMessage(r.Schema)
	}
	return db
}

type bindingRow struct {
	ID         string    `db:"id"`
	AgentID    string    `db:"agent_id"`
	BusinessID string    `db:"business_id"`
	DatabaseID string    `db:"database_id"`
	Config     string    `db:"config"`
	Active     bool      `db:"active"`
	CreatedAt  time.Time `db:"created_at"`
}

func newBindingRow(b *domain.Binding) bindingRow {
	return bindingRow{
		ID:         b.ID,
		AgentID:    b.AgentID,
		BusinessID: b.BusinessID,
		DatabaseID: b.DatabaseID,
		Config:     string(b.Config),
		Active:     b.Active,
		CreatedAt:  b.CreatedAt.UTC(),
	}
}

func (r bindingRow) domain() domain.Binding {
	b := domain.Binding{
		ID:         r.ID,
		AgentID:    r.AgentID,
		BusinessID: r.BusinessID,
		DatabaseID: r.DatabaseID,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
	}
	if r.Config != "" {
		b.Config = json.RawMessage(r.Config)
	}
	return b
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure IntakeService implements the interface.
var _ driving.IntakeService = (*IntakeService)(nil)

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes int64 = 100 << 20

// IntakeDeps holds the ports the intake service drives.
type IntakeDeps struct {
	Sources   driven.DataSourceStore
	Databases driven.DatabaseStore
	Blobs     driven.BlobStore
	Query     driven.QueryStore
	Index     driving.KnowledgeIndex
	Ingestion driving.IngestionService
}

// IntakeService validates uploads, stores them and hands them to the
// ingestion pipeline.
type IntakeService struct {
	deps     IntakeDeps
	maxBytes int64
}

// NewIntakeService creates an intake service.
func NewIntakeService(deps IntakeDeps, maxBytes int64) *IntakeService {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &IntakeService{deps: deps, maxBytes: maxBytes}
}

// Submit rejects oversize, unsupported, misaddressed and duplicate uploads
// before anything is stored, then stores and enqueues the rest.
func (s *IntakeService) Submit(ctx context.Context, upload domain.Upload) (*domain.DataSource, error) {
	if upload.BusinessID == "" || upload.DatabaseID == "" || upload.DeclaredName == "" {
		return nil, fmt.Errorf("%w: business id, database id and file name are required", domain.ErrInvalidInput)
	}
	if len(upload.Content) == 0 {
		return nil, fmt.Errorf("%w: file is empty", domain.ErrInvalidInput)
	}
	if int64(len(upload.Content)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds the %s limit", domain.ErrFileTooLarge,
			humanize.Bytes(uint64(len(upload.Content))), humanize.Bytes(uint64(s.maxBytes)))
	}

	format := domain.FormatOf(upload.DeclaredName)
	kind, err := domain.KindForFormat(format)
	if err != nil {
		return nil, err
	}

	db, err := s.deps.Databases.GetDatabase(ctx, upload.DatabaseID)
	if err != nil {
		return nil, err
	}
	if db.BusinessID != upload.BusinessID {
		return nil, domain.ErrNotFound
	}
	if db.Status != domain.DatabaseActive {
		return nil, fmt.Errorf("%w: database %s is %s", domain.ErrInvalidInput, db.ID, db.Status)
	}

	sum := sha256.Sum256(upload.Content)
	hash := hex.EncodeToString(sum[:])
	if existing, err := s.deps.Sources.FindByHash(ctx, upload.BusinessID, hash); err == nil {
		return nil, fmt.Errorf("%w: same content as %s (%s)", domain.ErrDuplicateContent, existing.Name, existing.ID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("check duplicate: %w", err)
	}

	id := uuid.NewString()
	path, err := s.deps.Blobs.Put(ctx, upload.BusinessID, id, upload.DeclaredName, upload.Content)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	now := time.Now().UTC()
	ds := &domain.DataSource{
		ID:          id,
		BusinessID:  upload.BusinessID,
		DatabaseID:  upload.DatabaseID,
		Name:        upload.DeclaredName,
		Kind:        kind,
		Format:      format,
		Size:        int64(len(upload.Content)),
		ContentHash: hash,
		StoragePath: path,
		Status:      domain.SourcePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.deps.Sources.CreateDataSource(ctx, ds); err != nil {
		if derr := s.deps.Blobs.Delete(ctx, path); derr != nil {
			logger.Warn("failed to remove stored file %s: %v", path, derr)
		}
		return nil, err
	}
	logger.Info("accepted %s (%s, %s) for database %s", ds.Name, ds.Kind, humanize.Bytes(uint64(ds.Size)), ds.DatabaseID)

	if _, err := s.deps.Ingestion.Enqueue(ctx, ds.ID); err != nil {
		if uerr := s.deps.Sources.UpdateStatus(ctx, ds.ID, domain.SourceError, err.Error(), 0); uerr != nil {
			logger.Warn("failed to record enqueue error for %s: %v", ds.ID, uerr)
		}
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return ds, nil
}

// Get returns a business's data source.
func (s *IntakeService) Get(ctx context.Context, businessID, dataSourceID string) (*domain.DataSource, error) {
	ds, err := s.deps.Sources.GetDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}
	if ds.BusinessID != businessID {
		return nil, domain.ErrNotFound
	}
	return ds, nil
}

// List returns a business's data sources, optionally for one database.
func (s *IntakeService) List(ctx context.Context, businessID, databaseID string) ([]domain.DataSource, error) {
	return s.deps.Sources.ListDataSources(ctx, businessID, databaseID)
}

// Delete removes a data source and everything derived from it. Sources
// with a pending or running job cannot be deleted.
func (s *IntakeService) Delete(ctx context.Context, businessID, dataSourceID string) error {
	ds, err := s.Get(ctx, businessID, dataSourceID)
	if err != nil {
		return err
	}
	if job, err := s.deps.Ingestion.Status(ctx, ds.ID); err == nil && job.State.Active() {
		return fmt.Errorf("%w: job %s is %s", domain.ErrIngestionInProgress, job.ID, job.State)
	}

	if err := s.deps.Index.DeleteSource(ctx, ds.ID); err != nil {
		return err
	}
	if err := s.deps.Query.DropSource(ctx, ds.DatabaseID, ds.ID); err != nil {
		return fmt.Errorf("drop materialized records: %w", err)
	}
	if err := s.deps.Sources.DeleteDataSource(ctx, ds.ID); err != nil {
		return err
	}
	if err := s.deps.Blobs.Delete(ctx, ds.StoragePath); err != nil {
		logger.Warn("failed to remove stored file of %s: %v", ds.ID, err)
	}
	logger.Info("deleted data source %s (%s)", ds.ID, ds.Name)
	return nil
}

// Reprocess enqueues a new ingestion run.
func (s *IntakeService) Reprocess(ctx context.Context, businessID, dataSourceID string) (*domain.Job, error) {
	ds, err := s.Get(ctx, businessID, dataSourceID)
	if err != nil {
		return nil, err
	}
	return s.deps.Ingestion.Enqueue(ctx, ds.ID)
}

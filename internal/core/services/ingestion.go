package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure IngestionPipeline implements the interface.
var _ driving.IngestionService = (*IngestionPipeline)(nil)

// ErrPipelineStopped is returned by Enqueue after Stop.
var ErrPipelineStopped = errors.New("ingestion pipeline stopped")

// interruptedMessage is the error of jobs a previous process left behind.
const interruptedMessage = "interrupted by restart"

// Progress checkpoints reported in status events.
const (
	progressExtracted    = 10
	progressChunked      = 20
	progressIndexedSpan  = 60
	progressMaterialized = 85
	progressPersisted    = 95
	progressDone         = 100
)

// PipelineConfig sizes the worker pool.
type PipelineConfig struct {
	// Workers is the number of concurrent ingestion jobs.
	Workers int

	// QueueSize bounds the FIFO queue of pending jobs.
	QueueSize int

	// IndexBatch is the number of chunks sent to the index per step.
	IndexBatch int
}

// DefaultPipelineConfig returns the defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{Workers: 5, QueueSize: 100, IndexBatch: 64}
}

// PipelineDeps holds the ports the pipeline drives.
type PipelineDeps struct {
	Sources    driven.DataSourceStore
	Chunks     driven.ChunkStore
	Jobs       driven.JobStore
	Blobs      driven.BlobStore
	Extractors driven.ExtractorSet
	Chunker    driven.Chunker
	Index      driving.KnowledgeIndex
	Query      driven.QueryStore
	Notifier   driven.StatusNotifier
}

type queued struct {
	jobID        string
	dataSourceID string
}

// IngestionPipeline runs extraction, chunking, indexing and persistence on
// a bounded worker pool. A run either commits all of its chunks or none.
type IngestionPipeline struct {
	deps PipelineDeps
	cfg  PipelineConfig

	queue   chan queued
	pending sync.WaitGroup
	workers sync.WaitGroup

	enqueueMu sync.Mutex          // serialises the in-progress check
	early     map[string]struct{} // jobs queued before Start

	stateMu sync.RWMutex
	started bool
	stopped bool
}

// NewIngestionPipeline creates a pipeline. Zero config fields take their
// defaults.
func NewIngestionPipeline(deps PipelineDeps, cfg PipelineConfig) *IngestionPipeline {
	def := DefaultPipelineConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IndexBatch <= 0 {
		cfg.IndexBatch = def.IndexBatch
	}
	return &IngestionPipeline{
		deps:  deps,
		cfg:   cfg,
		queue: make(chan queued, cfg.QueueSize),
		early: make(map[string]struct{}),
	}
}

// Enqueue creates a pending job and queues it. It blocks while the queue is
// full, until ctx is done.
func (p *IngestionPipeline) Enqueue(ctx context.Context, dataSourceID string) (*domain.Job, error) {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.stopped {
		return nil, ErrPipelineStopped
	}

	job, ds, err := p.createJob(ctx, dataSourceID)
	if err != nil {
		return nil, err
	}

	p.pending.Add(1)
	select {
	case p.queue <- queued{jobID: job.ID, dataSourceID: ds.ID}:
	case <-ctx.Done():
		p.pending.Done()
		// A job may only fail from running.
		_ = job.Start(time.Now().UTC())
		p.failJob(context.WithoutCancel(ctx), ds, job, "not queued: "+ctx.Err().Error())
		return nil, ctx.Err()
	}

	logger.Debug("queued job %s for data source %s", job.ID, ds.ID)
	return job, nil
}

func (p *IngestionPipeline) createJob(ctx context.Context, dataSourceID string) (*domain.Job, *domain.DataSource, error) {
	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()

	ds, err := p.deps.Sources.GetDataSource(ctx, dataSourceID)
	if err != nil {
		return nil, nil, err
	}
	latest, err := p.deps.Jobs.LatestJob(ctx, dataSourceID)
	switch {
	case err == nil && latest.State.Active():
		return nil, nil, fmt.Errorf("%w: job %s is %s", domain.ErrIngestionInProgress, latest.ID, latest.State)
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, nil, fmt.Errorf("latest job: %w", err)
	}

	job := domain.NewJob(uuid.NewString(), dataSourceID, time.Now().UTC())
	if err := p.deps.Jobs.SaveJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("save job: %w", err)
	}
	if !p.started {
		p.early[job.ID] = struct{}{}
	}
	if err := p.deps.Sources.UpdateStatus(ctx, ds.ID, domain.SourcePending, "", ds.ChunkCount); err != nil {
		return nil, nil, fmt.Errorf("update status: %w", err)
	}
	p.publish(ds, job)
	return job, ds, nil
}

// Status returns the latest job of a data source.
func (p *IngestionPipeline) Status(ctx context.Context, dataSourceID string) (*domain.Job, error) {
	return p.deps.Jobs.LatestJob(ctx, dataSourceID)
}

// Start fails the jobs a previous process left pending or running, then
// launches the workers. Running jobs are detached from ctx's cancellation
// so a started job always reaches a terminal state.
func (p *IngestionPipeline) Start(ctx context.Context) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.started || p.stopped {
		return
	}

	jobCtx := context.WithoutCancel(ctx)
	p.recoverInterrupted(jobCtx)
	p.started = true
	p.early = nil

	for i := 0; i < p.cfg.Workers; i++ {
		p.workers.Add(1)
		go func(worker int) {
			defer p.workers.Done()
			for item := range p.queue {
				p.run(jobCtx, worker, item)
				p.pending.Done()
			}
		}(i)
	}
	logger.Info("ingestion pipeline started with %d workers", p.cfg.Workers)
}

// Wait blocks until every queued job has finished.
func (p *IngestionPipeline) Wait() {
	p.pending.Wait()
}

// Stop stops accepting jobs, drains the queue and waits for the workers.
func (p *IngestionPipeline) Stop() {
	p.stateMu.Lock()
	if p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	started := p.started
	p.stateMu.Unlock()

	if started {
		p.workers.Wait()
	}
	logger.Info("ingestion pipeline stopped")
}

func (p *IngestionPipeline) run(ctx context.Context, worker int, item queued) {
	job, err := p.deps.Jobs.GetJob(ctx, item.jobID)
	if err != nil {
		logger.Warn("worker %d: job %s vanished: %v", worker, item.jobID, err)
		return
	}
	ds, err := p.deps.Sources.GetDataSource(ctx, item.dataSourceID)
	if err != nil {
		logger.Warn("worker %d: data source %s vanished: %v", worker, item.dataSourceID, err)
		p.abandon(ctx, job, "data source unavailable: "+err.Error())
		return
	}

	if err := job.Start(time.Now().UTC()); err != nil {
		logger.Warn("worker %d: %v", worker, err)
		return
	}
	if err := p.deps.Jobs.SaveJob(ctx, job); err != nil {
		logger.Error("worker %d: save job %s: %v", worker, job.ID, err)
		p.failJob(ctx, ds, job, "save job: "+err.Error())
		return
	}
	if err := p.deps.Sources.UpdateStatus(ctx, ds.ID, domain.SourceProcessing, "", ds.ChunkCount); err != nil {
		logger.Warn("worker %d: update status of %s: %v", worker, ds.ID, err)
	}
	p.publish(ds, job)

	logger.Section("Ingest " + ds.Name)
	started := time.Now()
	count, err := p.ingest(ctx, ds, job)
	if err != nil {
		logger.Warn("ingestion of %s failed: %v", ds.ID, err)
		p.failJob(ctx, ds, job, err.Error())
		return
	}

	if err := job.Complete(count, time.Now().UTC()); err != nil {
		logger.Error("complete job %s: %v", job.ID, err)
		return
	}
	if err := p.deps.Jobs.SaveJob(ctx, job); err != nil {
		logger.Error("save job %s: %v", job.ID, err)
	}
	if err := p.deps.Sources.UpdateStatus(ctx, ds.ID, domain.SourceCompleted, "", count); err != nil {
		logger.Error("update status of %s: %v", ds.ID, err)
	}
	p.publish(ds, job)
	logger.Info("ingested %s: %d chunks in %s", ds.Name, count, time.Since(started).Round(time.Millisecond))
}

// ingest does the work of one run and returns the committed chunk count.
// Records are staged and swapped in only once the chunks are committed.
// Every failure path removes the index entries and staged records written
// by this run, leaving the previous run's state in place.
func (p *IngestionPipeline) ingest(ctx context.Context, ds *domain.DataSource, job *domain.Job) (int, error) {
	content, err := p.deps.Blobs.Get(ctx, ds.StoragePath)
	if err != nil {
		return 0, fmt.Errorf("read stored file: %w", err)
	}

	extractor, err := p.deps.Extractors.For(ds.Kind)
	if err != nil {
		return 0, err
	}
	records, err := extractor.Extract(ctx, driven.File{ID: ds.ID, Name: ds.Name, Format: ds.Format, Content: content})
	if err != nil {
		if !errors.Is(err, domain.ErrExtraction) {
			err = domain.NewExtractionError(ds.ID, err)
		}
		return 0, err
	}
	logger.Debug("extracted %d records from %s", len(records), ds.Name)
	p.progress(ds, job, progressExtracted)

	chunks := p.chunk(ds, records)
	logger.Debug("split %s into %d chunks", ds.Name, len(chunks))
	p.progress(ds, job, progressChunked)

	var refs []string
	staged := false
	rollback := func() {
		rctx := context.WithoutCancel(ctx)
		if err := p.deps.Index.DeletePoints(rctx, refs); err != nil {
			logger.Warn("rollback of %d index entries for %s failed: %v", len(refs), ds.ID, err)
		}
		if staged {
			if err := p.deps.Query.DiscardStaged(rctx, ds); err != nil {
				logger.Warn("rollback of staged records for %s failed: %v", ds.ID, err)
			}
		}
	}

	for start := 0; start < len(chunks); start += p.cfg.IndexBatch {
		batch := chunks[start:min(start+p.cfg.IndexBatch, len(chunks))]
		if err := p.deps.Index.Index(ctx, batch); err != nil {
			rollback()
			return 0, fmt.Errorf("index chunks %d-%d: %w", start, start+len(batch)-1, err)
		}
		for _, c := range batch {
			refs = append(refs, c.VectorRef)
		}
		p.progress(ds, job, progressChunked+progressIndexedSpan*(start+len(batch))/len(chunks))
	}

	if p.deps.Query != nil && materializes(ds.Kind) {
		staged = true
		if err := p.deps.Query.StageSource(ctx, ds, records); err != nil {
			rollback()
			return 0, fmt.Errorf("materialize records: %w", err)
		}
		p.progress(ds, job, progressMaterialized)
	}

	previous, err := p.deps.Chunks.GetChunks(ctx, ds.ID)
	if err != nil {
		rollback()
		return 0, fmt.Errorf("load previous chunks: %w", err)
	}
	if err := p.deps.Chunks.ReplaceChunks(ctx, ds.ID, chunks); err != nil {
		rollback()
		return 0, fmt.Errorf("persist chunks: %w", err)
	}
	if staged {
		if err := p.deps.Query.CommitSource(ctx, ds); err != nil {
			if rerr := p.deps.Chunks.ReplaceChunks(context.WithoutCancel(ctx), ds.ID, previous); rerr != nil {
				logger.Error("restoring previous chunks of %s failed: %v", ds.ID, rerr)
			}
			rollback()
			return 0, fmt.Errorf("commit materialized records: %w", err)
		}
	}
	p.progress(ds, job, progressPersisted)

	// The new chunks are committed; entries of the previous run are stale.
	stale := make([]string, 0, len(previous))
	for _, c := range previous {
		if c.VectorRef != "" {
			stale = append(stale, c.VectorRef)
		}
	}
	if err := p.deps.Index.DeletePoints(ctx, stale); err != nil {
		logger.Warn("failed to remove %d stale index entries of %s: %v", len(stale), ds.ID, err)
	}
	return len(chunks), nil
}

// chunk splits each record's text and drops windows already seen in this
// data source.
func (p *IngestionPipeline) chunk(ds *domain.DataSource, records []domain.Record) []domain.Chunk {
	now := time.Now().UTC()
	seen := make(map[string]bool)
	var chunks []domain.Chunk
	for ri, rec := range records {
		for wi, w := range p.deps.Chunker.Split(rec.Text()) {
			if seen[w.Hash] {
				continue
			}
			seen[w.Hash] = true

			meta := make(map[string]any, len(rec.Metadata)+3)
			for k, v := range rec.Metadata {
				meta[k] = v
			}
			meta["record_index"] = ri
			meta["chunk_index"] = wi
			meta["source_kind"] = string(ds.Kind)

			chunks = append(chunks, domain.Chunk{
				ID:           uuid.NewString(),
				DataSourceID: ds.ID,
				BusinessID:   ds.BusinessID,
				DatabaseID:   ds.DatabaseID,
				Content:      w.Text,
				ContentHash:  w.Hash,
				Index:        len(chunks),
				Metadata:     meta,
				CreatedAt:    now,
			})
		}
	}
	return chunks
}

func materializes(kind domain.SourceKind) bool {
	return kind == domain.KindTabular || kind == domain.KindDelimited || kind == domain.KindStructured
}

// recoverInterrupted fails every job left pending or running by an earlier
// process and clears what its run may have written. Jobs queued by this
// pipeline before Start are left alone.
func (p *IngestionPipeline) recoverInterrupted(ctx context.Context) {
	jobs, err := p.deps.Jobs.ActiveJobs(ctx)
	if err != nil {
		logger.Error("list interrupted jobs: %v", err)
		return
	}
	for i := range jobs {
		if _, ok := p.early[jobs[i].ID]; ok {
			continue
		}
		p.recoverJob(ctx, &jobs[i])
	}
}

// recoverJob leaves the data source empty and in error; Reprocess rebuilds
// it from the stored file.
func (p *IngestionPipeline) recoverJob(ctx context.Context, job *domain.Job) {
	ds, err := p.deps.Sources.GetDataSource(ctx, job.DataSourceID)
	if err != nil {
		logger.Warn("interrupted job %s has no data source: %v", job.ID, err)
		p.abandon(ctx, job, interruptedMessage)
		return
	}
	logger.Warn("job %s of %s was %s when the last process stopped; failing it", job.ID, ds.Name, job.State)

	if err := p.deps.Index.DeleteSource(ctx, ds.ID); err != nil {
		logger.Warn("remove index entries of %s: %v", ds.ID, err)
	}
	if p.deps.Query != nil {
		if err := p.deps.Query.DiscardStaged(ctx, ds); err != nil {
			logger.Warn("discard staged records of %s: %v", ds.ID, err)
		}
		if err := p.deps.Query.DropSource(ctx, ds.DatabaseID, ds.ID); err != nil {
			logger.Warn("drop materialized records of %s: %v", ds.ID, err)
		}
	}
	if err := p.deps.Chunks.ReplaceChunks(ctx, ds.ID, nil); err != nil {
		logger.Warn("clear chunks of %s: %v", ds.ID, err)
	}

	if job.State == domain.JobPending {
		_ = job.Start(time.Now().UTC())
	}
	p.failJob(ctx, ds, job, interruptedMessage)
}

// abandon fails a job whose data source cannot be loaded.
func (p *IngestionPipeline) abandon(ctx context.Context, job *domain.Job, msg string) {
	now := time.Now().UTC()
	if job.State == domain.JobPending {
		_ = job.Start(now)
	}
	if err := job.Fail(msg, now); err != nil {
		logger.Error("fail job %s: %v", job.ID, err)
		return
	}
	if err := p.deps.Jobs.SaveJob(ctx, job); err != nil {
		logger.Error("save job %s: %v", job.ID, err)
	}
}

func (p *IngestionPipeline) failJob(ctx context.Context, ds *domain.DataSource, job *domain.Job, msg string) {
	if err := job.Fail(msg, time.Now().UTC()); err != nil {
		logger.Error("fail job %s: %v", job.ID, err)
		return
	}
	if err := p.deps.Jobs.SaveJob(ctx, job); err != nil {
		logger.Error("save job %s: %v", job.ID, err)
	}
	count, err := p.deps.Chunks.CountChunks(ctx, ds.ID)
	if err != nil {
		count = ds.ChunkCount
	}
	if err := p.deps.Sources.UpdateStatus(ctx, ds.ID, domain.SourceError, msg, count); err != nil {
		logger.Error("update status of %s: %v", ds.ID, err)
	}
	p.publish(ds, job)
}

func (p *IngestionPipeline) progress(ds *domain.DataSource, job *domain.Job, pct int) {
	job.Progress = pct
	p.publish(ds, job)
}

func (p *IngestionPipeline) publish(ds *domain.DataSource, job *domain.Job) {
	if p.deps.Notifier == nil {
		return
	}
	progress := job.Progress
	if job.State == domain.JobCompleted {
		progress = progressDone
	}
	p.deps.Notifier.Publish(domain.StatusEvent{
		DataSourceID: ds.ID,
		BusinessID:   ds.BusinessID,
		JobID:        job.ID,
		Status:       job.State.SourceStatus(),
		Progress:     progress,
		Error:        job.Error,
		Timestamp:    time.Now().UTC(),
	})
}

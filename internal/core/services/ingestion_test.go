package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

func upload(name, content string) domain.Upload {
	return domain.Upload{BusinessID: "biz-1", DatabaseID: "db-1", DeclaredName: name, Content: []byte(content)}
}

func TestIngestion_TextProducesThreeChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{Workers: 2})
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	text := strings.Repeat("lorem ", 500)[:2500]
	ds, err := f.intake.Submit(ctx, upload("notes.txt", text))
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePending, ds.Status)
	f.pipeline.Wait()

	got, err := f.store.GetDataSource(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceCompleted, got.Status)
	assert.Equal(t, 3, got.ChunkCount)

	chunks, err := f.store.GetChunks(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.VectorRef)
		assert.Equal(t, "biz-1", c.BusinessID)
		assert.Equal(t, "text", c.Metadata["source_kind"])
	}

	job, err := f.pipeline.Status(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.State)
	assert.Equal(t, 3, job.ChunkCount)
	assert.Equal(t, 100, job.Progress)

	assert.Equal(t, 3, f.vectors.Len())
	assert.Equal(t, []domain.DataSourceStatus{
		domain.SourcePending, domain.SourceProcessing, domain.SourceCompleted,
	}, f.notifier.statuses())
	assert.Equal(t, 100, f.notifier.last().Progress)

	_, materialized := f.query.materializedRows(ds.ID)
	assert.False(t, materialized)
}

func TestIngestion_IndexFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(func(vi driven.VectorIndex) driven.VectorIndex {
		return &flakyIndex{VectorIndex: vi, failOn: 2, failErr: errBoom}
	}, PipelineConfig{Workers: 1, IndexBatch: 1})
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	text := strings.Repeat("lorem ", 500)[:2500]
	ds, err := f.intake.Submit(ctx, upload("notes.txt", text))
	require.NoError(t, err)
	f.pipeline.Wait()

	count, err := f.store.CountChunks(ctx, ds.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, f.vectors.Len(), "chunk 1 must be removed from the index")

	job, err := f.pipeline.Status(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.State)
	assert.Contains(t, job.Error, "boom")
	assert.NotNil(t, job.FinishedAt)

	got, err := f.store.GetDataSource(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceError, got.Status)
	assert.Contains(t, got.Error, "boom")
	assert.Equal(t, domain.SourceError, f.notifier.last().Status)
}

func TestIngestion_DelimitedIsMaterialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	ds, err := f.intake.Submit(ctx, upload("prices.csv", "product,price\nWidget A,10\nWidget B,12\n"))
	require.NoError(t, err)
	f.pipeline.Wait()

	rows, ok := f.query.materializedRows(ds.ID)
	require.True(t, ok)
	assert.Equal(t, 2, rows)

	chunks, err := f.store.GetChunks(ctx, ds.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "product: Widget A\nprice: 10", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Metadata["record_index"])
}

func TestIngestion_MaterializeFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.query.materializeErr = errBoom
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	ds, err := f.intake.Submit(ctx, upload("prices.csv", "product,price\nWidget A,10\n"))
	require.NoError(t, err)
	f.pipeline.Wait()

	assert.Zero(t, f.vectors.Len())
	count, err := f.store.CountChunks(ctx, ds.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
	got, err := f.store.GetDataSource(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceError, got.Status)
}

func TestIngestion_ExtractionFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	ds, err := f.intake.Submit(ctx, upload("broken.json", `{"a": `))
	require.NoError(t, err)
	f.pipeline.Wait()

	job, err := f.pipeline.Status(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.State)
	assert.Contains(t, job.Error, "extract "+ds.ID)
	assert.Zero(t, f.vectors.Len())
}

func TestIngestion_InProgressRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.createDatabase(ctx, "db-1", "biz-1")

	// Workers are not started, so the first job stays pending.
	ds, err := f.intake.Submit(ctx, upload("a.txt", "alpha beta gamma"))
	require.NoError(t, err)

	_, err = f.pipeline.Enqueue(ctx, ds.ID)
	assert.ErrorIs(t, err, domain.ErrIngestionInProgress)
	_, err = f.intake.Reprocess(ctx, "biz-1", ds.ID)
	assert.ErrorIs(t, err, domain.ErrIngestionInProgress)
	assert.ErrorIs(t, f.intake.Delete(ctx, "biz-1", ds.ID), domain.ErrIngestionInProgress)

	f.pipeline.Start(ctx)
	f.pipeline.Wait()
	defer f.pipeline.Stop()

	job, err := f.intake.Reprocess(ctx, "biz-1", ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, job.State)
	f.pipeline.Wait()

	// Re-ingestion replaces chunks and their index entries.
	count, err := f.store.CountChunks(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, f.vectors.Len())
}

func TestIngestion_StopRejectsNewJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	f.pipeline.Stop()
	f.pipeline.Stop()

	_, err := f.intake.Submit(ctx, upload("a.txt", "alpha"))
	assert.ErrorIs(t, err, ErrPipelineStopped)
}

func TestIngestion_DedupWithinSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.createDatabase(ctx, "db-1", "biz-1")
	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	ds, err := f.intake.Submit(ctx, upload("dups.json", `[{"q":"same"},{"q":"same"},{"q":"other"}]`))
	require.NoError(t, err)
	f.pipeline.Wait()

	chunks, err := f.store.GetChunks(ctx, ds.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
	rows, _ := f.query.materializedRows(ds.ID)
	assert.Equal(t, 3, rows)
}

// seedInterrupted stores a data source whose job a previous process left
// in state, with a chunk, an index entry and staged and committed records.
func seedInterrupted(t *testing.T, f *fixture, state domain.JobState) *domain.DataSource {
	t.Helper()
	ctx := context.Background()
	f.createDatabase(ctx, "db-1", "biz-1")

	content := "opening hours are nine to five on weekdays"
	path, err := f.blobs.Put(ctx, "biz-1", "ds-old", "hours.txt", []byte(content))
	require.NoError(t, err)
	ds := &domain.DataSource{
		ID: "ds-old", BusinessID: "biz-1", DatabaseID: "db-1", Name: "hours.txt",
		Kind: domain.KindText, Format: "txt", ContentHash: "h-old", StoragePath: path,
		Status: domain.SourceProcessing, ChunkCount: 1,
	}
	require.NoError(t, f.store.CreateDataSource(ctx, ds))

	chunks := []domain.Chunk{{
		ID: "c-old", DataSourceID: ds.ID, BusinessID: "biz-1", DatabaseID: "db-1",
		Content: "half written", ContentHash: "h-chunk",
	}}
	require.NoError(t, f.index.Index(ctx, chunks))
	require.NoError(t, f.store.ReplaceChunks(ctx, ds.ID, chunks))
	f.query.materialized[ds.ID] = 1
	f.query.staged[ds.ID] = 1

	job := domain.NewJob("job-old", ds.ID, time.Now().Add(-time.Hour))
	if state == domain.JobRunning {
		require.NoError(t, job.Start(time.Now().Add(-time.Minute)))
	}
	require.NoError(t, f.store.SaveJob(ctx, job))
	return ds
}

func TestIngestion_StartRecoversInterruptedJobs(t *testing.T) {
	for _, state := range []domain.JobState{domain.JobRunning, domain.JobPending} {
		t.Run(string(state), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(nil, PipelineConfig{Workers: 1})
			ds := seedInterrupted(t, f, state)
			require.Equal(t, 1, f.vectors.Len())

			f.pipeline.Start(ctx)
			defer f.pipeline.Stop()

			old, err := f.store.GetJob(ctx, "job-old")
			require.NoError(t, err)
			assert.Equal(t, domain.JobFailed, old.State)
			assert.Equal(t, "interrupted by restart", old.Error)
			assert.NotNil(t, old.StartedAt)
			assert.NotNil(t, old.FinishedAt)

			got, err := f.store.GetDataSource(ctx, ds.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.SourceError, got.Status)
			assert.Equal(t, "interrupted by restart", got.Error)
			assert.Zero(t, got.ChunkCount)

			assert.Zero(t, f.vectors.Len(), "index entries of the interrupted run are removed")
			count, err := f.store.CountChunks(ctx, ds.ID)
			require.NoError(t, err)
			assert.Zero(t, count)
			_, materialized := f.query.materializedRows(ds.ID)
			assert.False(t, materialized)
			assert.Contains(t, f.query.discarded, ds.ID)
			assert.Equal(t, domain.SourceError, f.notifier.last().Status)

			job, err := f.intake.Reprocess(ctx, "biz-1", ds.ID)
			require.NoError(t, err)
			assert.NotEqual(t, "job-old", job.ID)
			f.pipeline.Wait()

			got, err = f.store.GetDataSource(ctx, ds.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.SourceCompleted, got.Status)
			assert.Equal(t, 1, got.ChunkCount)
			assert.Equal(t, 1, f.vectors.Len())
		})
	}
}

func TestIngestion_StartFailsJobsOfMissingSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{Workers: 1})
	require.NoError(t, f.store.SaveJob(ctx, domain.NewJob("job-orphan", "ds-gone", time.Now())))

	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()

	job, err := f.store.GetJob(ctx, "job-orphan")
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, job.State)
	active, err := f.store.ActiveJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestIngestion_StartKeepsJobsQueuedBeforeIt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil, PipelineConfig{})
	f.createDatabase(ctx, "db-1", "biz-1")

	ds, err := f.intake.Submit(ctx, upload("a.txt", "alpha beta gamma"))
	require.NoError(t, err)

	f.pipeline.Start(ctx)
	defer f.pipeline.Stop()
	f.pipeline.Wait()

	job, err := f.pipeline.Status(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.State)
}

func TestIngestion_FailedReingestKeepsPreviousRun(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(q *mockQueryStore)
	}{
		{"staging fails", func(q *mockQueryStore) { q.materializeErr = errBoom }},
		{"commit fails", func(q *mockQueryStore) { q.commitErr = errBoom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(nil, PipelineConfig{Workers: 1})
			f.createDatabase(ctx, "db-1", "biz-1")
			f.pipeline.Start(ctx)
			defer f.pipeline.Stop()

			ds, err := f.intake.Submit(ctx, upload("prices.csv", "product,price\nWidget A,10\nWidget B,12\n"))
			require.NoError(t, err)
			f.pipeline.Wait()
			before, err := f.store.GetChunks(ctx, ds.ID)
			require.NoError(t, err)
			require.Len(t, before, 2)

			tt.corrupt(f.query)
			_, err = f.intake.Reprocess(ctx, "biz-1", ds.ID)
			require.NoError(t, err)
			f.pipeline.Wait()

			job, err := f.pipeline.Status(ctx, ds.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobFailed, job.State)

			rows, ok := f.query.materializedRows(ds.ID)
			assert.True(t, ok, "the previous table stays queryable")
			assert.Equal(t, 2, rows)
			after, err := f.store.GetChunks(ctx, ds.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after, "the previous chunks stay committed")
			assert.Equal(t, 2, f.vectors.Len(), "only the failed run's index entries are removed")
		})
	}
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

func hit(id, biz, db string, score float64, created time.Time) domain.VectorHit {
	return domain.VectorHit{
		Point: domain.VectorPoint{ID: id, ChunkID: id, BusinessID: biz, DatabaseID: db, DataSourceID: "ds-" + id, Content: "content " + id, CreatedAt: created},
		Score: score,
	}
}

func TestKnowledgeIndex_SearchPostFilters(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := &stubVectorIndex{hits: []domain.VectorHit{
		hit("low", "biz-1", "db-1", 0.5, t0),
		hit("foreign", "biz-2", "db-1", 0.99, t0),
		hit("unbound", "biz-1", "db-9", 0.95, t0),
		hit("old", "biz-1", "db-1", 0.9, t0),
		hit("new", "biz-1", "db-2", 0.9, t0.Add(time.Hour)),
		hit("over", "biz-1", "db-1", 1.2, t0),
		hit("mid", "biz-1", "db-1", 0.8, t0),
	}}
	svc := NewKnowledgeIndexService(&mockEmbedder{vector: []float32{1, 0}}, idx, KnowledgeIndexConfig{})

	results, err := svc.Search(context.Background(), domain.SearchRequest{
		Query:       "widgets",
		BusinessID:  "biz-1",
		DatabaseIDs: []string{"db-1", "db-2"},
		Limit:       3,
	})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "over", results[0].ChunkID)
	assert.Equal(t, 1.0, results[0].Score, "scores are clamped to 1")
	assert.Equal(t, "new", results[1].ChunkID, "ties go to the newer hit")
	assert.Equal(t, "old", results[2].ChunkID)
	assert.Equal(t, "ds-new", results[1].SourceID)

	assert.Equal(t, "biz-1", idx.lastFilter.BusinessID)
	assert.Equal(t, []string{"db-1", "db-2"}, idx.lastFilter.DatabaseIDs)
}

func TestKnowledgeIndex_SearchDefaults(t *testing.T) {
	t0 := time.Now()
	idx := &stubVectorIndex{hits: []domain.VectorHit{
		hit("a", "biz-1", "db-1", 0.75, t0),
		hit("b", "biz-1", "db-1", 0.65, t0),
	}}
	svc := NewKnowledgeIndexService(&mockEmbedder{vector: []float32{1}}, idx, KnowledgeIndexConfig{})

	results, err := svc.Search(context.Background(), domain.SearchRequest{Query: "q", BusinessID: "biz-1"})
	require.NoError(t, err)
	require.Len(t, results, 1, "default threshold is 0.7")
	assert.Equal(t, domain.DefaultSearchLimit*2, idx.lastLimit)
}

func TestKnowledgeIndex_SearchValidation(t *testing.T) {
	svc := NewKnowledgeIndexService(&mockEmbedder{vector: []float32{1}}, &stubVectorIndex{}, KnowledgeIndexConfig{})
	_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "q"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Search(context.Background(), domain.SearchRequest{BusinessID: "b"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestKnowledgeIndex_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		embedder *mockEmbedder
		index    *stubVectorIndex
		wantErr  error
	}{
		{"embedding timeout", &mockEmbedder{block: true}, &stubVectorIndex{}, domain.ErrUpstreamTimeout},
		{"embedding failure", &mockEmbedder{err: errBoom}, &stubVectorIndex{}, domain.ErrIndexUpstream},
		{"index failure", &mockEmbedder{vector: []float32{1}}, &stubVectorIndex{err: errBoom}, domain.ErrIndexUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewKnowledgeIndexService(tt.embedder, tt.index, KnowledgeIndexConfig{Timeout: 20 * time.Millisecond})
			_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "q", BusinessID: "b"})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestKnowledgeIndex_IndexAssignsRefsAndCleansUp(t *testing.T) {
	ctx := context.Background()
	chunks := []domain.Chunk{
		{ID: "c1", Content: "one", BusinessID: "b", DatabaseID: "d", DataSourceID: "s"},
		{ID: "c2", Content: "two", BusinessID: "b", DatabaseID: "d", DataSourceID: "s"},
	}

	ok := NewKnowledgeIndexService(&mockEmbedder{vector: []float32{1, 0}}, &stubVectorIndex{}, KnowledgeIndexConfig{BatchSize: 1})
	require.NoError(t, ok.Index(ctx, chunks))
	assert.NotEmpty(t, chunks[0].VectorRef)
	assert.NotEqual(t, chunks[0].VectorRef, chunks[1].VectorRef)

	failing := &stubVectorIndex{err: errBoom}
	svc := NewKnowledgeIndexService(&mockEmbedder{vector: []float32{1, 0}}, failing, KnowledgeIndexConfig{BatchSize: 1})
	err := svc.Index(ctx, chunks)
	assert.ErrorIs(t, err, domain.ErrIndexUpstream)
	assert.Empty(t, chunks[0].VectorRef)
	assert.Len(t, failing.deleted, 2, "refs written by the failed call are removed")
}

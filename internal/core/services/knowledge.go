package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure KnowledgeIndexService implements the interface.
var _ driving.KnowledgeIndex = (*KnowledgeIndexService)(nil)

// KnowledgeIndexConfig tunes embedding and index calls.
type KnowledgeIndexConfig struct {
	// Timeout bounds every embedding and index call.
	Timeout time.Duration

	// BatchSize is the number of chunks embedded per call.
	BatchSize int

	// Parallelism caps concurrent embedding batches.
	Parallelism int
}

// DefaultKnowledgeIndexConfig returns the defaults.
func DefaultKnowledgeIndexConfig() KnowledgeIndexConfig {
	return KnowledgeIndexConfig{
		Timeout:     30 * time.Second,
		BatchSize:   16,
		Parallelism: 4,
	}
}

// KnowledgeIndexService wraps embedding and the vector index and scopes
// every search to a business.
type KnowledgeIndexService struct {
	embedder driven.EmbeddingService
	index    driven.VectorIndex
	cfg      KnowledgeIndexConfig
}

// NewKnowledgeIndexService creates a knowledge index. Zero config fields
// take their defaults.
func NewKnowledgeIndexService(
	embedder driven.EmbeddingService,
	index driven.VectorIndex,
	cfg KnowledgeIndexConfig,
) *KnowledgeIndexService {
	def := DefaultKnowledgeIndexConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	return &KnowledgeIndexService{embedder: embedder, index: index, cfg: cfg}
}

// Index embeds chunks in parallel batches and upserts them. Each chunk gets
// a fresh VectorRef. When any batch fails, points already written by this
// call are removed before returning.
func (s *KnowledgeIndexService) Index(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		chunks[i].VectorRef = uuid.NewString()
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(callCtx)
	g.SetLimit(s.cfg.Parallelism)
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		batch := chunks[start:min(start+s.cfg.BatchSize, len(chunks))]
		g.Go(func() error {
			return s.indexBatch(gctx, batch)
		})
	}

	if err := g.Wait(); err != nil {
		refs := make([]string, len(chunks))
		for i := range chunks {
			refs[i] = chunks[i].VectorRef
			chunks[i].VectorRef = ""
		}
		s.cleanup(refs)
		return classifyUpstream(ctx, err)
	}
	return nil
}

func (s *KnowledgeIndexService) indexBatch(ctx context.Context, batch []domain.Chunk) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(batch))
	}

	points := make([]domain.VectorPoint, len(batch))
	for i, c := range batch {
		points[i] = domain.VectorPoint{
			ID:           c.VectorRef,
			Vector:       vectors[i],
			BusinessID:   c.BusinessID,
			DatabaseID:   c.DatabaseID,
			DataSourceID: c.DataSourceID,
			ChunkID:      c.ID,
			Content:      c.Content,
			Metadata:     c.Metadata,
			CreatedAt:    c.CreatedAt,
		}
	}
	if err := s.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// cleanup removes points on a context detached from the failed call.
func (s *KnowledgeIndexService) cleanup(refs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.index.DeletePoints(ctx, refs); err != nil {
		logger.Warn("failed to remove %d partially indexed points: %v", len(refs), err)
	}
}

// Search embeds the query, runs a filtered index query and post-filters the
// hits: business and database scoping, score clamping to [0,1], threshold,
// ordering by score then recency, and the limit.
func (s *KnowledgeIndexService) Search(ctx context.Context, req domain.SearchRequest) ([]domain.SearchResult, error) {
	if req.BusinessID == "" {
		return nil, fmt.Errorf("%w: business id is required", domain.ErrInvalidInput)
	}
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	if req.Limit <= 0 {
		req.Limit = domain.DefaultSearchLimit
	}
	if req.ScoreThreshold <= 0 {
		req.ScoreThreshold = domain.DefaultScoreThreshold
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	vector, err := s.embedder.Embed(callCtx, req.Query)
	if err != nil {
		return nil, classifyUpstream(ctx, fmt.Errorf("embed query: %w", err))
	}

	filter := domain.VectorFilter{BusinessID: req.BusinessID, DatabaseIDs: req.DatabaseIDs}
	hits, err := s.index.Search(callCtx, vector, filter, req.Limit*2)
	if err != nil {
		return nil, classifyUpstream(ctx, fmt.Errorf("vector search: %w", err))
	}

	return rankHits(hits, req), nil
}

func rankHits(hits []domain.VectorHit, req domain.SearchRequest) []domain.SearchResult {
	allowed := domain.NewDatabaseSet(req.DatabaseIDs...)

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Point.BusinessID != req.BusinessID {
			continue
		}
		if allowed.Len() > 0 && !allowed.Contains(h.Point.DatabaseID) {
			continue
		}
		score := min(max(h.Score, 0), 1)
		if score < req.ScoreThreshold {
			continue
		}
		results = append(results, domain.SearchResult{
			Content:    h.Point.Content,
			Score:      score,
			SourceID:   h.Point.DataSourceID,
			DatabaseID: h.Point.DatabaseID,
			ChunkID:    h.Point.ChunkID,
			Metadata:   h.Point.Metadata,
			CreatedAt:  h.Point.CreatedAt,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results
}

// DeleteSource removes every index entry of a data source.
func (s *KnowledgeIndexService) DeleteSource(ctx context.Context, dataSourceID string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.index.DeleteBySource(callCtx, dataSourceID); err != nil {
		return classifyUpstream(ctx, fmt.Errorf("delete source %s: %w", dataSourceID, err))
	}
	return nil
}

// DeletePoints removes index entries by reference.
func (s *KnowledgeIndexService) DeletePoints(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.index.DeletePoints(callCtx, refs); err != nil {
		return classifyUpstream(ctx, fmt.Errorf("delete %d points: %w", len(refs), err))
	}
	return nil
}

// classifyUpstream maps an embedding or index failure to ErrUpstreamTimeout
// or ErrIndexUpstream. A cancelled parent context is returned as is.
func classifyUpstream(parent context.Context, err error) error {
	if parent.Err() != nil && errors.Is(err, context.Canceled) {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrIndexUpstream, err)
}

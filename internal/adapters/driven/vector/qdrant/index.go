// Package qdrant implements driven.VectorIndex against a Qdrant server
// over gRPC. Points carry business, database and data source ids in their
// payload so queries can be scoped with native filters.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "business_knowledge"

// Payload keys.
const (
	keyBusinessID   = "business_id"
	keyDatabaseID   = "database_id"
	keyDataSourceID = "data_source_id"
	keyChunkID      = "chunk_id"
	keyContent      = "content"
	keyMetadata     = "metadata"
	keyCreatedAt    = "created_at"
)

// Config configures the Qdrant connection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// Index is a Qdrant-backed vector index.
type Index struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// New connects to Qdrant and makes sure the collection exists.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: vector dimension must be positive", domain.ErrInvalidInput)
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}

	x := &Index{client: client, collection: cfg.Collection, dimension: cfg.Dimension}
	if err := x.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return x, nil
}

func (x *Index) ensureCollection(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", x.collection, err)
	}
	if exists {
		return nil
	}

	logger.Info("creating qdrant collection %s (dimension %d)", x.collection, x.dimension)
	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", x.collection, err)
	}

	for _, field := range []string{keyBusinessID, keyDatabaseID, keyDataSourceID} {
		_, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: x.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index payload field %s: %w", field, err)
		}
	}
	return nil
}

// Upsert writes points and waits for them to be indexed.
func (x *Index) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for i := range points {
		if len(points[i].Vector) != x.dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(points[i].Vector), x.dimension)
		}
		ps, err := toPointStruct(points[i])
		if err != nil {
			return err
		}
		structs = append(structs, ps)
	}

	wait := true
	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(structs), err)
	}
	return nil
}

// Search runs a filtered nearest-neighbour query.
func (x *Index) Search(ctx context.Context, vector []float32, filter domain.VectorFilter, limit int) ([]domain.VectorHit, error) {
	if limit <= 0 {
		limit = domain.DefaultSearchLimit
	}
	l := uint64(limit)
	scored, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", x.collection, err)
	}

	hits := make([]domain.VectorHit, 0, len(scored))
	for _, sp := range scored {
		hits = append(hits, fromScoredPoint(sp))
	}
	return hits, nil
}

// DeleteBySource removes every point of a data source.
func (x *Index) DeleteBySource(ctx context.Context, dataSourceID string) error {
	wait := true
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(keyDataSourceID, dataSourceID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete points of source %s: %w", dataSourceID, err)
	}
	return nil
}

// DeletePoints removes points by ID.
func (x *Index) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}
	wait := true
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

// Close closes the gRPC connection.
func (x *Index) Close() error {
	return x.client.Close()
}

func buildFilter(f domain.VectorFilter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.BusinessID != "" {
		must = append(must, qdrant.NewMatch(keyBusinessID, f.BusinessID))
	}
	if len(f.DatabaseIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(keyDatabaseID, f.DatabaseIDs...))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func toPointStruct(p domain.VectorPoint) (*qdrant.PointStruct, error) {
	meta := "{}"
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata of point %s: %w", p.ID, err)
		}
		meta = string(b)
	}
	return &qdrant.PointStruct{
		Id:      qdrant.NewID(p.ID),
		Vectors: qdrant.NewVectors(p.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			keyBusinessID:   p.BusinessID,
			keyDatabaseID:   p.DatabaseID,
			keyDataSourceID: p.DataSourceID,
			keyChunkID:      p.ChunkID,
			keyContent:      p.Content,
			keyMetadata:     meta,
			keyCreatedAt:    p.CreatedAt.UTC().UnixNano(),
		}),
	}, nil
}

func fromScoredPoint(sp *qdrant.ScoredPoint) domain.VectorHit {
	payload := sp.GetPayload()
	str := func(k string) string {
		if v, ok := payload[k]; ok {
			return v.GetStringValue()
		}
		return ""
	}

	p := domain.VectorPoint{
		ID:           sp.GetId().GetUuid(),
		BusinessID:   str(keyBusinessID),
		DatabaseID:   str(keyDatabaseID),
		DataSourceID: str(keyDataSourceID),
		ChunkID:      str(keyChunkID),
		Content:      str(keyContent),
	}
	if raw := str(keyMetadata); raw != "" && raw != "{}" {
		var meta map[string]any
		if err := json.Unmarshal([]byte(raw), &meta); err == nil {
			p.Metadata = meta
		}
	}
	if v, ok := payload[keyCreatedAt]; ok {
		p.CreatedAt = time.Unix(0, v.GetIntegerValue()).UTC()
	}
	return domain.VectorHit{Point: p, Score: float64(sp.GetScore())}
}

// Package memory provides an in-memory vector index using brute-force
// cosine similarity.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

type entry struct {
	point domain.VectorPoint
	norm  []float32
}

// Index stores normalised vectors in a map.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   map[string]entry
}

// New creates an index for vectors of the given dimension. A zero
// dimension is fixed by the first upsert.
func New(dimension int) *Index {
	return &Index{dimension: dimension, entries: make(map[string]entry)}
}

// Upsert writes points, replacing any with the same ID.
func (x *Index) Upsert(_ context.Context, points []domain.VectorPoint) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range points {
		if x.dimension == 0 {
			x.dimension = len(p.Vector)
		}
		if len(p.Vector) != x.dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(p.Vector), x.dimension)
		}
	}
	for _, p := range points {
		x.entries[p.ID] = entry{point: p, norm: normalize(p.Vector)}
	}
	return nil
}

// Search returns the nearest points matching the filter.
func (x *Index) Search(_ context.Context, vector []float32, filter domain.VectorFilter, limit int) ([]domain.VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dimension != 0 && len(vector) != x.dimension {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(vector), x.dimension)
	}
	q := normalize(vector)

	var databases map[string]bool
	if len(filter.DatabaseIDs) > 0 {
		databases = make(map[string]bool, len(filter.DatabaseIDs))
		for _, id := range filter.DatabaseIDs {
			databases[id] = true
		}
	}

	hits := make([]domain.VectorHit, 0, len(x.entries))
	for _, e := range x.entries {
		if filter.BusinessID != "" && e.point.BusinessID != filter.BusinessID {
			continue
		}
		if databases != nil && !databases[e.point.DatabaseID] {
			continue
		}
		hits = append(hits, domain.VectorHit{Point: e.point, Score: dot(q, e.norm)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Point.ID < hits[j].Point.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// DeleteBySource removes every point of the data source.
func (x *Index) DeleteBySource(_ context.Context, dataSourceID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, e := range x.entries {
		if e.point.DataSourceID == dataSourceID {
			delete(x.entries, id)
		}
	}
	return nil
}

// DeletePoints removes points by ID.
func (x *Index) DeletePoints(_ context.Context, ids []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, id := range ids {
		delete(x.entries, id)
	}
	return nil
}

// Len returns the number of stored points.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Close releases resources.
func (x *Index) Close() error {
	return nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

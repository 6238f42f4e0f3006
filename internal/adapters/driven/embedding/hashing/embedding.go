// Package hashing provides a deterministic embedder based on feature
// hashing. It needs no model or network, which makes it suitable for
// offline use and tests. Similarity reflects shared vocabulary only.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// DefaultDimensions is the vector size when none is configured.
const DefaultDimensions = 384

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// EmbeddingService hashes tokens and bigrams into a fixed-size vector.
type EmbeddingService struct {
	dimensions int
}

// NewEmbeddingService creates a hashing embedder.
func NewEmbeddingService(dimensions int) *EmbeddingService {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &EmbeddingService{dimensions: dimensions}
}

// Embed returns the L2-normalised hashed term vector of text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, s.dimensions)
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	for i, tok := range tokens {
		s.add(vec, tok, 1)
		if i > 0 {
			s.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, s.dimensions)
	if sum == 0 {
		return out, nil
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// add uses the signed hashing trick so collisions tend to cancel.
func (s *EmbeddingService) add(vec []float64, term string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	sum := h.Sum64()
	idx := int(sum % uint64(s.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// EmbedBatch embeds each text in turn.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int { return s.dimensions }

// ModelName returns "hashing".
func (s *EmbeddingService) ModelName() string { return "hashing" }

// Close releases resources.
func (s *EmbeddingService) Close() error { return nil }

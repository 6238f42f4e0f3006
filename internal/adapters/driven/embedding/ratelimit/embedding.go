// Package ratelimit wraps an EmbeddingService with a token-bucket limiter
// so remote embedding APIs are not flooded by concurrent ingestion workers.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Config holds the limiter settings.
type Config struct {
	// RequestsPerSecond is the sustained rate. Zero or less disables limiting.
	RequestsPerSecond float64

	// BurstSize is the maximum burst.
	BurstSize int
}

// EmbeddingService limits calls to the wrapped service. A batch costs one
// token per text.
type EmbeddingService struct {
	next    driven.EmbeddingService
	limiter *rate.Limiter
}

// Wrap decorates next. It returns next unchanged when limiting is disabled.
func Wrap(next driven.EmbeddingService, cfg Config) driven.EmbeddingService {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &EmbeddingService{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
	}
}

// Embed waits for one token then delegates.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return s.next.Embed(ctx, text)
}

// EmbedBatch waits for one token per text, in chunks no larger than the
// burst, then delegates the whole batch.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	burst := s.limiter.Burst()
	for remaining := len(texts); remaining > 0; {
		n := min(remaining, burst)
		if err := s.limiter.WaitN(ctx, n); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		remaining -= n
	}
	return s.next.EmbedBatch(ctx, texts)
}

// Dimensions delegates.
func (s *EmbeddingService) Dimensions() int { return s.next.Dimensions() }

// ModelName delegates.
func (s *EmbeddingService) ModelName() string { return s.next.ModelName() }

// Close delegates.
func (s *EmbeddingService) Close() error { return s.next.Close() }

// Ping delegates when the wrapped service can check connectivity. It is not
// rate limited.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	if p, ok := s.next.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

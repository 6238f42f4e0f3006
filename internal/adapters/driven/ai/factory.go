// Package ai provides factory functions for creating the embedding and
// vector index adapters from configuration.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/embedding/hashing"
	ollamaembed "github.com/custodia-labs/knowledgehub/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/knowledgehub/internal/adapters/driven/embedding/openai"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/embedding/ratelimit"
	vectormem "github.com/custodia-labs/knowledgehub/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/vector/qdrant"
	"github.com/custodia-labs/knowledgehub/internal/config"
	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// pinger is implemented by embedding services that can check connectivity.
type pinger interface {
	Ping(ctx context.Context) error
}

// InitResult contains the result of AI service initialisation.
type InitResult struct {
	EmbeddingService driven.EmbeddingService
	VectorIndex      driven.VectorIndex
	Warnings         []string // Non-fatal issues found while validating.
}

// Close releases all resources held by InitResult.
func (r *InitResult) Close() {
	if r.EmbeddingService != nil {
		r.EmbeddingService.Close()
	}
	if r.VectorIndex != nil {
		r.VectorIndex.Close()
	}
}

// Init creates the embedding service and vector index. An unreachable
// embedding provider is reported as a warning; ingestion fails per job
// until it comes back.
func Init(ctx context.Context, embedding config.EmbeddingConfig, vector config.VectorConfig) (*InitResult, error) {
	embedder, err := CreateEmbeddingService(embedding)
	if err != nil {
		return nil, err
	}
	result := &InitResult{EmbeddingService: embedder}

	if err := ValidateEmbeddingService(embedder); err != nil {
		result.Warnings = append(result.Warnings, err.Error())
		logger.Warn("%v", err)
	}

	index, err := CreateVectorIndex(ctx, vector, embedder.Dimensions())
	if err != nil {
		result.Close()
		return nil, err
	}
	result.VectorIndex = index
	return result, nil
}

// CreateEmbeddingService creates the embedding service selected by the
// configuration, wrapped with its rate limit.
func CreateEmbeddingService(cfg config.EmbeddingConfig) (driven.EmbeddingService, error) {
	var (
		svc driven.EmbeddingService
		err error
	)
	switch cfg.Provider {
	case "ollama":
		svc, err = ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout.Std(),
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "openai":
		svc, err = openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout.Std(),
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
	case "hashing":
		svc = hashing.NewEmbeddingService(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s embedding service: %w", cfg.Provider, err)
	}

	return ratelimit.Wrap(svc, ratelimit.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstSize:         cfg.Burst,
	}), nil
}

// CreateVectorIndex creates the vector index selected by the configuration.
func CreateVectorIndex(ctx context.Context, cfg config.VectorConfig, dimensions int) (driven.VectorIndex, error) {
	switch cfg.Provider {
	case "memory":
		return vectormem.New(dimensions), nil
	case "qdrant":
		index, err := qdrant.New(ctx, qdrant.Config{
			Host:       cfg.Host,
			Port:       cfg.Port,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			Collection: cfg.Collection,
			Dimension:  dimensions,
		})
		if err != nil {
			return nil, errors.Join(domain.ErrIndexUpstream, err)
		}
		return index, nil
	default:
		return nil, fmt.Errorf("%w: unsupported vector provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}

// ValidateEmbeddingService pings the provider when it supports it.
func ValidateEmbeddingService(svc driven.EmbeddingService) error {
	p, ok := svc.(pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("embedding service %s unreachable: %w", svc.ModelName(), err)
	}
	return nil
}

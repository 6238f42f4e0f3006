// Package app wires configuration, adapters and core services into a
// runnable knowledgehub instance.
package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/ai"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/blob/localfs"
	querysqlite "github.com/custodia-labs/knowledgehub/internal/adapters/driven/querystore/sqlite"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driving/httpapi"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driving/inbox"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driving/mcp"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driving/mcpws"
	"github.com/custodia-labs/knowledgehub/internal/config"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/services"
	"github.com/custodia-labs/knowledgehub/internal/extractors"
	"github.com/custodia-labs/knowledgehub/internal/logger"
	"github.com/custodia-labs/knowledgehub/internal/postprocessors/chunker"
)

// stores groups the metadata store ports.
type stores struct {
	sources   driven.DataSourceStore
	chunks    driven.ChunkStore
	jobs      driven.JobStore
	databases driven.DatabaseStore
	bindings  driven.BindingStore
}

// App holds the wired services.
type App struct {
	Config *config.Config

	Intake      *services.IntakeService
	Ingestion   *services.IngestionPipeline
	Databases   *services.DatabaseService
	Bindings    *services.BindingRegistry
	Query       *services.QueryService
	Knowledge   *services.KnowledgeIndexService
	Gateway     *services.AgentGateway
	Connections *services.ConnectionRegistry
	Status      *services.StatusHub

	closers []func() error
}

// New builds an App from configuration. Ingestion workers are not started;
// call Start or Serve.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	blobs, err := localfs.New(cfg.BlobPath())
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	qs, err := querysqlite.New(cfg.QueryPath())
	if err != nil {
		return fmt.Errorf("open query store: %w", err)
	}
	a.closers = append(a.closers, qs.Close)

	aiResult, err := ai.Init(ctx, cfg.Embedding, cfg.Vector)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { aiResult.Close(); return nil })
	for _, w := range aiResult.Warnings {
		logger.Warn("%s", w)
	}

	a.Status = services.NewStatusHub()
	a.Knowledge = services.NewKnowledgeIndexService(aiResult.EmbeddingService, aiResult.VectorIndex, services.KnowledgeIndexConfig{
		Timeout:     cfg.Embedding.Timeout.Std(),
		BatchSize:   cfg.Embedding.BatchSize,
		Parallelism: cfg.Embedding.Parallelism,
	})
	a.Ingestion = services.NewIngestionPipeline(services.PipelineDeps{
		Sources:    st.sources,
		Chunks:     st.chunks,
		Jobs:       st.jobs,
		Blobs:      blobs,
		Extractors: extractors.NewSet(nil),
		Chunker:    chunker.New(chunker.WithChunkSize(cfg.Chunker.Size), chunker.WithOverlap(cfg.Chunker.Overlap)),
		Index:      a.Knowledge,
		Query:      qs,
		Notifier:   a.Status,
	}, services.PipelineConfig{
		Workers:    cfg.Ingestion.Workers,
		QueueSize:  cfg.Ingestion.QueueSize,
		IndexBatch: cfg.Ingestion.IndexBatch,
	})
	a.Intake = services.NewIntakeService(services.IntakeDeps{
		Sources:   st.sources,
		Databases: st.databases,
		Blobs:     blobs,
		Query:     qs,
		Index:     a.Knowledge,
		Ingestion: a.Ingestion,
	}, int64(cfg.Ingestion.MaxUpload))
	a.Databases = services.NewDatabaseService(st.databases, st.sources, st.jobs, st.bindings, qs, blobs, a.Knowledge)
	a.Bindings = services.NewBindingRegistry(st.bindings, st.databases, cfg.Bindings.CacheTTL.Std())
	a.Query = services.NewQueryService(qs, st.databases, services.QueryConfig{
		Timeout: cfg.MCP.RequestTimeout.Std(),
		MaxRows: cfg.MCP.QueryMaxRows,
	})
	a.Gateway = services.NewAgentGateway(a.Bindings, st.databases, a.Databases, a.Query, a.Knowledge)
	a.Connections = services.NewConnectionRegistry(cfg.MCP.MaxConnections)
	a.Connections.Watch(a.Bindings)
	return nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	switch a.Config.Storage {
	case "memory":
		s := memory.NewStore()
		return stores{sources: s, chunks: s, jobs: s, databases: s, bindings: s}, nil
	default:
		s, err := sqlite.NewStore(ctx, a.Config.DataDir)
		if err != nil {
			return stores{}, fmt.Errorf("open metadata store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return stores{
			sources:   s.DataSourceStore(),
			chunks:    s.ChunkStore(),
			jobs:      s.JobStore(),
			databases: s.DatabaseStore(),
			bindings:  s.BindingStore(),
		}, nil
	}
}

// Start launches the ingestion workers. Jobs run under ctx.
func (a *App) Start(ctx context.Context) {
	a.Ingestion.Start(ctx)
}

// ServeOptions selects what Serve runs.
type ServeOptions struct {
	// HTTPAddr overrides the management API address.
	HTTPAddr string

	// MCPAddr overrides the agent protocol server address.
	MCPAddr string

	// InboxDir, when set, is watched for dropped files.
	InboxDir string
}

// Serve starts the ingestion workers, the management API, the agent
// protocol server and, if configured, the inbox watcher. It blocks until
// ctx is done or one of them fails, then drains ingestion.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := a.Config
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = cfg.HTTP.Addr
	}
	if opts.MCPAddr == "" {
		opts.MCPAddr = cfg.MCP.Addr
	}
	if opts.InboxDir == "" {
		opts.InboxDir = cfg.Ingestion.InboxDir
	}

	api, err := httpapi.NewServer(httpapi.Services{
		Intake:      a.Intake,
		Ingestion:   a.Ingestion,
		Databases:   a.Databases,
		Bindings:    a.Bindings,
		Query:       a.Query,
		Knowledge:   a.Knowledge,
		Connections: a.Connections,
		Status:      a.Status,
	}, int64(cfg.Ingestion.MaxUpload))
	if err != nil {
		return err
	}
	ws, err := mcpws.NewServer(a.Gateway, a.Connections, mcpws.Config{
		MaxInFlight:    cfg.MCP.MaxInFlight,
		IdleTimeout:    cfg.MCP.IdleTimeout.Std(),
		PingInterval:   cfg.MCP.PingInterval.Std(),
		RequestTimeout: cfg.MCP.RequestTimeout.Std(),
	})
	if err != nil {
		return err
	}

	a.Start(ctx)
	defer a.Ingestion.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.ListenAndServe(gctx, opts.HTTPAddr) })
	g.Go(func() error { return ws.ListenAndServe(gctx, opts.MCPAddr) })
	if opts.InboxDir != "" {
		g.Go(func() error { return inbox.New(opts.InboxDir, a.Intake).Run(gctx) })
	}

	logger.Section("knowledgehub")
	logger.Info("api on %s, agents on %s, storage %s, embeddings %s, vectors %s",
		opts.HTTPAddr, opts.MCPAddr, cfg.Storage, cfg.Embedding.Provider, cfg.Vector.Provider)
	return g.Wait()
}

// MCPBridge returns a standard MCP server acting as one agent.
func (a *App) MCPBridge(agentID, businessID string) (*mcp.Server, error) {
	return mcp.NewServer(&mcp.Ports{
		Gateway:     a.Gateway,
		Connections: a.Connections,
		AgentID:     agentID,
		BusinessID:  businessID,
	})
}

// Close releases stores and clients in reverse order of opening.
func (a *App) Close() error {
	if a.Ingestion != nil {
		a.Ingestion.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Package httpapi is the management REST API: uploads, data sources,
// business databases, agent bindings, knowledge search, protocol server
// statistics and the per-business status stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

// StatusSource hands out per-business status event subscriptions.
type StatusSource interface {
	Subscribe(businessID string, buffer int) (<-chan domain.StatusEvent, func())
}

// Services aggregates the driving ports the API exposes.
type Services struct {
	Intake      driving.IntakeService
	Ingestion   driving.IngestionService
	Databases   driving.DatabaseService
	Bindings    driving.BindingRegistry
	Query       driving.QueryService
	Knowledge   driving.KnowledgeIndex
	Connections driving.ConnectionRegistry
	Status      StatusSource
}

var (
	// ErrMissingService is returned when a required service is not provided.
	ErrMissingService = errors.New("httpapi: intake, ingestion, databases and bindings are required")
)

// Validate ensures the required services are set.
func (s *Services) Validate() error {
	if s.Intake == nil || s.Ingestion == nil || s.Databases == nil || s.Bindings == nil {
		return ErrMissingService
	}
	return nil
}

// Server serves the management API.
type Server struct {
	svc       Services
	maxUpload int64
	upgrader  websocket.Upgrader
	router    chi.Router
}

// NewServer creates the API server. maxUpload bounds upload bodies.
func NewServer(svc Services, maxUpload int64) (*Server, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		svc:       svc,
		maxUpload: maxUpload,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/mcp/stats", s.mcpStats)
		r.Get("/mcp/connections", s.mcpConnections)

		r.Route("/businesses/{business}", func(r chi.Router) {
			r.Get("/status/ws", s.statusStream)
			r.Post("/search", s.search)

			r.Route("/databases", func(r chi.Router) {
				r.Post("/", s.createDatabase)
				r.Get("/", s.listDatabases)
				r.Route("/{database}", func(r chi.Router) {
					r.Get("/", s.getDatabase)
					r.Delete("/", s.deleteDatabase)
					r.Get("/schema", s.databaseSchema)
					r.Post("/query", s.queryDatabase)
					r.Post("/upload", s.upload)
					r.Get("/sources", s.listSources)
					r.Post("/bindings", s.createBinding)
					r.Get("/bindings", s.listBindings)
				})
			})

			r.Route("/sources", func(r chi.Router) {
				r.Get("/", s.listSources)
				r.Route("/{source}", func(r chi.Router) {
					r.Get("/", s.getSource)
					r.Delete("/", s.deleteSource)
					r.Get("/status", s.sourceStatus)
					r.Post("/reprocess", s.reprocessSource)
				})
			})

			r.Delete("/bindings/{binding}", s.deleteBinding)
		})
	})
	return r
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("http api listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("%s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Microsecond))
	})
}

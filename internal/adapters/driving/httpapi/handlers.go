package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// Sources.

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	business, database := chi.URLParam(r, "business"), chi.URLParam(r, "database")
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, domain.ErrFileTooLarge)
			return
		}
		writeError(w, fmt.Errorf("%w: multipart field 'file' is required", domain.ErrInvalidInput))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, domain.ErrFileTooLarge)
			return
		}
		writeError(w, fmt.Errorf("reading upload: %w", err))
		return
	}

	ds, err := s.svc.Intake.Submit(r.Context(), domain.Upload{
		BusinessID:   business,
		DatabaseID:   database,
		DeclaredName: header.Filename,
		Content:      content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ds)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	if database == "" {
		database = r.URL.Query().Get("database_id")
	}
	sources, err := s.svc.Intake.List(r.Context(), chi.URLParam(r, "business"), database)
	if err != nil {
		writeError(w, err)
		return
	}
	if sources == nil {
		sources = []domain.DataSource{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	ds, err := s.svc.Intake.Get(r.Context(), chi.URLParam(r, "business"), chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) deleteSource(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Intake.Delete(r.Context(), chi.URLParam(r, "business"), chi.URLParam(r, "source")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sourceStatusBody is the processing status of a data source.
type sourceStatusBody struct {
	DataSourceID string                  `json:"data_source_id"`
	Status       domain.DataSourceStatus `json:"status"`
	Progress     int                     `json:"progress"`
	Error        string                  `json:"error,omitempty"`
	RecordsCount int                     `json:"records_count"`
	Job          *domain.Job             `json:"job,omitempty"`
}

func (s *Server) sourceStatus(w http.ResponseWriter, r *http.Request) {
	ds, err := s.svc.Intake.Get(r.Context(), chi.URLParam(r, "business"), chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, err)
		return
	}
	body := sourceStatusBody{
		DataSourceID: ds.ID,
		Status:       ds.Status,
		Error:        ds.Error,
		RecordsCount: ds.ChunkCount,
	}
	job, err := s.svc.Ingestion.Status(r.Context(), ds.ID)
	switch {
	case err == nil:
		body.Job = job
		body.Progress = job.Progress
	case errors.Is(err, domain.ErrNotFound):
	default:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) reprocessSource(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Intake.Reprocess(r.Context(), chi.URLParam(r, "business"), chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// Databases.

// databaseBody is the create request.
type databaseBody struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

func (s *Server) createDatabase(w http.ResponseWriter, r *http.Request) {
	var body databaseBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	db, err := s.svc.Databases.Create(r.Context(), &domain.BusinessDatabase{
		ID:          body.ID,
		BusinessID:  chi.URLParam(r, "business"),
		Name:        body.Name,
		Description: body.Description,
		Schema:      body.Schema,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, db)
}

func (s *Server) listDatabases(w http.ResponseWriter, r *http.Request) {
	dbs, err := s.svc.Databases.List(r.Context(), chi.URLParam(r, "business"))
	if err != nil {
		writeError(w, err)
		return
	}
	if dbs == nil {
		dbs = []domain.BusinessDatabase{}
	}
	writeJSON(w, http.StatusOK, dbs)
}

func (s *Server) getDatabase(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.Databases.Get(r.Context(), chi.URLParam(r, "business"), chi.URLParam(r, "database"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) deleteDatabase(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Databases.Delete(r.Context(), chi.URLParam(r, "business"), chi.URLParam(r, "database")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) databaseSchema(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	if _, err := s.svc.Databases.Get(r.Context(), chi.URLParam(r, "business"), database); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.svc.Databases.Schema(r.Context(), database)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) queryDatabase(w http.ResponseWriter, r *http.Request) {
	if s.svc.Query == nil {
		writeError(w, fmt.Errorf("%w: query service", domain.ErrNotFound))
		return
	}
	database := chi.URLParam(r, "database")
	if _, err := s.svc.Databases.Get(r.Context(), chi.URLParam(r, "business"), database); err != nil {
		writeError(w, err)
		return
	}
	var q domain.StructuredQuery
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.svc.Query.Structured(r.Context(), database, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Bindings.

// bindingBody is the create request.
type bindingBody struct {
	AgentID string          `json:"agent_id"`
	Config  json.RawMessage `json:"config"`
}

func (s *Server) createBinding(w http.ResponseWriter, r *http.Request) {
	var body bindingBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	b, err := s.svc.Bindings.Create(r.Context(), &domain.Binding{
		AgentID:    body.AgentID,
		BusinessID: chi.URLParam(r, "business"),
		DatabaseID: chi.URLParam(r, "database"),
		Config:     body.Config,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) listBindings(w http.ResponseWriter, r *http.Request) {
	database := chi.URLParam(r, "database")
	if _, err := s.svc.Databases.Get(r.Context(), chi.URLParam(r, "business"), database); err != nil {
		writeError(w, err)
		return
	}
	bindings, err := s.svc.Bindings.List(r.Context(), database)
	if err != nil {
		writeError(w, err)
		return
	}
	if bindings == nil {
		bindings = []domain.Binding{}
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (s *Server) deleteBinding(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Bindings.Delete(r.Context(), chi.URLParam(r, "binding")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search.

// searchBody is the search request.
type searchBody struct {
	Query          string   `json:"query"`
	DatabaseIDs    []string `json:"database_ids"`
	Limit          int      `json:"limit"`
	ScoreThreshold float64  `json:"score_threshold"`
}

// searchResponse is the search answer.
type searchResponse struct {
	Query   string                `json:"query"`
	Results []domain.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.svc.Knowledge == nil {
		writeError(w, fmt.Errorf("%w: knowledge index", domain.ErrNotFound))
		return
	}
	var body searchBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	results, err := s.svc.Knowledge.Search(r.Context(), domain.SearchRequest{
		Query:          body.Query,
		BusinessID:     chi.URLParam(r, "business"),
		DatabaseIDs:    body.DatabaseIDs,
		Limit:          body.Limit,
		ScoreThreshold: body.ScoreThreshold,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: body.Query, Results: results, Count: len(results)})
}

// Protocol server.

// statsBody reports protocol server activity.
type statsBody struct {
	TotalConnections  int64  `json:"total_connections"`
	ActiveConnections int    `json:"active_connections"`
	TotalQueries      int64  `json:"total_queries"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	StartedAt         string `json:"started_at"`
}

func (s *Server) mcpStats(w http.ResponseWriter, _ *http.Request) {
	if s.svc.Connections == nil {
		writeError(w, fmt.Errorf("%w: protocol server is not running", domain.ErrNotFound))
		return
	}
	st := s.svc.Connections.Stats()
	writeJSON(w, http.StatusOK, statsBody{
		TotalConnections:  st.TotalConnections,
		ActiveConnections: st.ActiveConnections,
		TotalQueries:      st.TotalQueries,
		UptimeSeconds:     int64(st.Uptime.Seconds()),
		StartedAt:         st.StartedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) mcpConnections(w http.ResponseWriter, r *http.Request) {
	if s.svc.Connections == nil {
		writeError(w, fmt.Errorf("%w: protocol server is not running", domain.ErrNotFound))
		return
	}
	sessions := s.svc.Connections.Sessions()
	if business := r.URL.Query().Get("business_id"); business != "" {
		filtered := sessions[:0]
		for _, info := range sessions {
			if info.BusinessID == business {
				filtered = append(filtered, info)
			}
		}
		sessions = filtered
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(sessions) {
		sessions = sessions[:limit]
	}
	if sessions == nil {
		sessions = []domain.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

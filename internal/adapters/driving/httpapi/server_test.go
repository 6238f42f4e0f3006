package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/blob/localfs"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/embedding/hashing"
	querysqlite "github.com/custodia-labs/knowledgehub/internal/adapters/driven/querystore/sqlite"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/storage/memory"
	vectormem "github.com/custodia-labs/knowledgehub/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/services"
	"github.com/custodia-labs/knowledgehub/internal/extractors"
	"github.com/custodia-labs/knowledgehub/internal/postprocessors/chunker"
)

const faq = "Our opening hours are nine to five on weekdays."

type harness struct {
	t        *testing.T
	url      string
	pipeline *services.IngestionPipeline
	conns    *services.ConnectionRegistry
}

func newHarness(t *testing.T, maxUpload int64) *harness {
	t.Helper()

	store := memory.NewStore()
	qs, err := querysqlite.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { qs.Close() })
	blobs, err := localfs.New(t.TempDir())
	require.NoError(t, err)

	hub := services.NewStatusHub()
	knowledge := services.NewKnowledgeIndexService(hashing.NewEmbeddingService(64), vectormem.New(64), services.KnowledgeIndexConfig{})
	pipeline := services.NewIngestionPipeline(services.PipelineDeps{
		Sources:    store,
		Chunks:     store,
		Jobs:       store,
		Blobs:      blobs,
		Extractors: extractors.NewSet(nil),
		Chunker:    chunker.New(),
		Index:      knowledge,
		Query:      qs,
		Notifier:   hub,
	}, services.PipelineConfig{Workers: 2})
	pipeline.Start(context.Background())
	t.Cleanup(pipeline.Stop)

	intake := services.NewIntakeService(services.IntakeDeps{
		Sources:   store,
		Databases: store,
		Blobs:     blobs,
		Query:     qs,
		Index:     knowledge,
		Ingestion: pipeline,
	}, maxUpload)
	conns := services.NewConnectionRegistry(0)

	srv, err := NewServer(Services{
		Intake:      intake,
		Ingestion:   pipeline,
		Databases:   services.NewDatabaseService(store, store, store, store, qs, blobs, knowledge),
		Bindings:    services.NewBindingRegistry(store, store, time.Minute),
		Query:       services.NewQueryService(qs, store, services.QueryConfig{}),
		Knowledge:   knowledge,
		Connections: conns,
		Status:      hub,
	}, maxUpload)
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &harness{t: t, url: hs.URL, pipeline: pipeline, conns: conns}
}

func (h *harness) do(method, path string, body any) (*http.Response, []byte) {
	h.t.Helper()
	var r *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		r = bytes.NewReader(raw)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.url+path, r)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	return h.send(req)
}

func (h *harness) upload(path, name, content string) (*http.Response, []byte) {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(h.t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.url+path, &buf)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.send(req)
}

func (h *harness) send(req *http.Request) (*http.Response, []byte) {
	h.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(h.t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (h *harness) createDatabase(id string) {
	h.t.Helper()
	resp, body := h.do(http.MethodPost, "/v1/businesses/biz-1/databases", map[string]any{"id": id, "name": "Catalog " + id})
	require.Equal(h.t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestServer_Validate(t *testing.T) {
	_, err := NewServer(Services{}, 0)
	assert.ErrorIs(t, err, ErrMissingService)
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t, 0)
	resp, body := h.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_Databases(t *testing.T) {
	h := newHarness(t, 0)

	t.Run("create validates the schema", func(t *testing.T) {
		resp, body := h.do(http.MethodPost, "/v1/businesses/biz-1/databases", map[string]any{
			"name":   "Catalog",
			"schema": map[string]any{"tables": []any{map[string]any{"name": "products"}}},
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, string(body), "columns")
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		resp, _ := h.do(http.MethodPost, "/v1/businesses/biz-1/databases", map[string]any{"name": "x", "colour": "red"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	h.createDatabase("db-1")

	t.Run("list and get", func(t *testing.T) {
		resp, body := h.do(http.MethodGet, "/v1/businesses/biz-1/databases", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		dbs := decode[[]domain.BusinessDatabase](t, body)
		require.Len(t, dbs, 1)
		assert.Equal(t, domain.DatabaseActive, dbs[0].Status)

		resp, body = h.do(http.MethodGet, "/v1/businesses/biz-1/databases/db-1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		info := decode[domain.DatabaseInfo](t, body)
		assert.Equal(t, "Catalog db-1", info.Name)
		assert.Equal(t, domain.DatabaseStats{}, info.Statistics)
	})

	t.Run("foreign business sees nothing", func(t *testing.T) {
		resp, _ := h.do(http.MethodGet, "/v1/businesses/biz-2/databases/db-1", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, body := h.do(http.MethodGet, "/v1/businesses/biz-2/databases", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `[]`, string(body))
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := h.do(http.MethodDelete, "/v1/businesses/biz-1/databases/db-1", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp, _ = h.do(http.MethodGet, "/v1/businesses/biz-1/databases/db-1", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_UploadAndQuery(t *testing.T) {
	h := newHarness(t, 0)
	h.createDatabase("db-1")

	resp, body := h.upload("/v1/businesses/biz-1/databases/db-1/upload", "products.csv", "product,price\nWidget,9.99\nGadget,19.99\n")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	ds := decode[domain.DataSource](t, body)
	assert.Equal(t, domain.KindDelimited, ds.Kind)
	assert.Equal(t, domain.SourcePending, ds.Status)
	h.pipeline.Wait()

	t.Run("status", func(t *testing.T) {
		resp, body := h.do(http.MethodGet, "/v1/businesses/biz-1/sources/"+ds.ID+"/status", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		st := decode[sourceStatusBody](t, body)
		assert.Equal(t, domain.SourceCompleted, st.Status)
		assert.Equal(t, 100, st.Progress)
		require.NotNil(t, st.Job)
		assert.Equal(t, domain.JobCompleted, st.Job.State)
	})

	t.Run("duplicate content", func(t *testing.T) {
		resp, _ := h.upload("/v1/businesses/biz-1/databases/db-1/upload", "copy.csv", "product,price\nWidget,9.99\nGadget,19.99\n")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("unsupported format", func(t *testing.T) {
		resp, _ := h.upload("/v1/businesses/biz-1/databases/db-1/upload", "tool.exe", "MZ")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing file field", func(t *testing.T) {
		resp, _ := h.do(http.MethodPost, "/v1/businesses/biz-1/databases/db-1/upload", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown database", func(t *testing.T) {
		resp, _ := h.upload("/v1/businesses/biz-1/databases/db-9/upload", "x.txt", "hello")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("structured query", func(t *testing.T) {
		resp, body := h.do(http.MethodPost, "/v1/businesses/biz-1/databases/db-1/query", map[string]any{
			"where": map[string]any{"product": "Widget"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		res := decode[domain.QueryResult](t, body)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, "9.99", res.Rows[0]["price"])
	})

	t.Run("schema lists the table", func(t *testing.T) {
		resp, body := h.do(http.MethodGet, "/v1/businesses/biz-1/databases/db-1/schema", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		info := decode[domain.SchemaInfo](t, body)
		require.Len(t, info.Tables, 1)
		assert.Equal(t, querysqlite.TableName("products.csv", ds.ID), info.Tables[0].Name)
		require.Len(t, info.DataSources, 1)
	})

	t.Run("list sources", func(t *testing.T) {
		for _, path := range []string{
			"/v1/businesses/biz-1/sources",
			"/v1/businesses/biz-1/sources?database_id=db-1",
			"/v1/businesses/biz-1/databases/db-1/sources",
		} {
			resp, body := h.do(http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Len(t, decode[[]domain.DataSource](t, body), 1, path)
		}
	})

	t.Run("reprocess", func(t *testing.T) {
		resp, body := h.do(http.MethodPost, "/v1/businesses/biz-1/sources/"+ds.ID+"/reprocess", nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
		h.pipeline.Wait()
	})

	t.Run("delete source", func(t *testing.T) {
		resp, _ := h.do(http.MethodDelete, "/v1/businesses/biz-2/sources/"+ds.ID, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = h.do(http.MethodDelete, "/v1/businesses/biz-1/sources/"+ds.ID, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp, _ = h.do(http.MethodGet, "/v1/businesses/biz-1/sources/"+ds.ID, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestServer_UploadTooLarge(t *testing.T) {
	h := newHarness(t, 16)
	h.createDatabase("db-1")

	resp, _ := h.upload("/v1/businesses/biz-1/databases/db-1/upload", "notes.txt", strings.Repeat("a", 17))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_Search(t *testing.T) {
	h := newHarness(t, 0)
	h.createDatabase("db-1")

	resp, body := h.upload("/v1/businesses/biz-1/databases/db-1/upload", "faq.txt", faq)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	h.pipeline.Wait()

	resp, body = h.do(http.MethodPost, "/v1/businesses/biz-1/search", map[string]any{"query": faq, "score_threshold": 0.5})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	res := decode[searchResponse](t, body)
	require.Equal(t, 1, res.Count)
	assert.Contains(t, res.Results[0].Content, "opening hours")

	resp, body = h.do(http.MethodPost, "/v1/businesses/biz-2/search", map[string]any{"query": faq, "score_threshold": 0.5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[searchResponse](t, body).Count)

	resp, _ = h.do(http.MethodPost, "/v1/businesses/biz-1/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Bindings(t *testing.T) {
	h := newHarness(t, 0)
	h.createDatabase("db-1")

	resp, body := h.do(http.MethodPost, "/v1/businesses/biz-1/databases/db-1/bindings", map[string]any{"agent_id": "agent-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	b := decode[domain.Binding](t, body)
	assert.True(t, b.Active)

	resp, _ = h.do(http.MethodPost, "/v1/businesses/biz-1/databases/db-1/bindings", map[string]any{"agent_id": "agent-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.do(http.MethodPost, "/v1/businesses/biz-2/databases/db-1/bindings", map[string]any{"agent_id": "agent-2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = h.do(http.MethodGet, "/v1/businesses/biz-1/databases/db-1/bindings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.Binding](t, body), 1)

	resp, body = h.do(http.MethodGet, "/v1/businesses/biz-1/databases/db-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[domain.DatabaseInfo](t, body).Statistics.Bindings)

	resp, _ = h.do(http.MethodDelete, "/v1/businesses/biz-1/bindings/"+b.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = h.do(http.MethodGet, "/v1/businesses/biz-1/databases/db-1/bindings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestServer_MCPStats(t *testing.T) {
	h := newHarness(t, 0)
	s1 := domain.NewSession("s-1", "10.0.0.1:5000", time.Now())
	s1.Authenticate("agent-1", "biz-1", domain.NewDatabaseSet("db-1"))
	require.NoError(t, h.conns.Register(s1))
	require.NoError(t, h.conns.Register(domain.NewSession("s-2", "10.0.0.2:5000", time.Now())))
	h.conns.RecordQuery()

	resp, body := h.do(http.MethodGet, "/v1/mcp/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[statsBody](t, body)
	assert.Equal(t, int64(2), st.TotalConnections)
	assert.Equal(t, 2, st.ActiveConnections)
	assert.Equal(t, int64(1), st.TotalQueries)

	resp, body = h.do(http.MethodGet, "/v1/mcp/connections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.SessionInfo](t, body), 2)

	resp, body = h.do(http.MethodGet, "/v1/mcp/connections?business_id=biz-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decode[[]domain.SessionInfo](t, body)
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{"db-1"}, sessions[0].Databases)

	resp, body = h.do(http.MethodGet, "/v1/mcp/connections?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.SessionInfo](t, body), 1)
}

func TestServer_StatusStream(t *testing.T) {
	h := newHarness(t, 0)
	h.createDatabase("db-1")

	url := "ws" + strings.TrimPrefix(h.url, "http") + "/v1/businesses/biz-1/status/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	read := func() statusMessage {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg statusMessage
		require.NoError(t, ws.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, TypePong, read().Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)))
	assert.Equal(t, TypeSubscribed, read().Type)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`nope`)))
	assert.Equal(t, TypeError, read().Type)

	resp, body := h.upload("/v1/businesses/biz-1/databases/db-1/upload", "faq.txt", faq)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	ds := decode[domain.DataSource](t, body)

	var last statusMessage
	for last.Status != domain.SourceCompleted {
		last = read()
		require.Equal(t, TypeFileStatusUpdate, last.Type)
		assert.Equal(t, ds.ID, last.FileID)
		require.NotEqual(t, domain.SourceError, last.Status, last.Error)
	}
	assert.Equal(t, 100, last.Progress)
}

func TestReadStatusClient_PongsExtendReadDeadline(t *testing.T) {
	const pongWait = 200 * time.Millisecond
	done := make(chan struct{})
	upgrader := websocket.Upgrader{}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		readStatusClient(ws, pongWait, make(chan statusMessage, 4), done)
	}))
	defer hs.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	defer ws.Close()

	for i := 0; i < 8; i++ {
		require.NoError(t, ws.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)))
		select {
		case <-done:
			t.Fatalf("subscriber dropped after %d pongs", i+1)
		case <-time.After(pongWait / 4):
		}
	}

	// Once pongs stop the half-open subscriber is dropped.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("read deadline never expired")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrUnsupportedFormat, http.StatusBadRequest},
		{domain.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{domain.ErrDuplicateContent, http.StatusConflict},
		{domain.ErrDuplicateBinding, http.StatusConflict},
		{domain.ErrIngestionInProgress, http.StatusConflict},
		{domain.ErrAccessDenied, http.StatusForbidden},
		{domain.ErrUnsafeQuery, http.StatusUnprocessableEntity},
		{domain.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{domain.ErrIndexUpstream, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

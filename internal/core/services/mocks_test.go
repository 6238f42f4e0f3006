package services

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/embedding/hashing"
	"github.com/custodia-labs/knowledgehub/internal/adapters/driven/storage/memory"
	vectormem "github.com/custodia-labs/knowledgehub/internal/adapters/driven/vector/memory"
	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/extractors"
	"github.com/custodia-labs/knowledgehub/internal/postprocessors/chunker"
)

// --- Mock implementations ---

// mockBlobStore implements driven.BlobStore in memory.
type mockBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMockBlobStore() *mockBlobStore {
	return &mockBlobStore{blobs: make(map[string][]byte)}
}

func (m *mockBlobStore) Put(_ context.Context, businessID, dataSourceID, name string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := path.Join("mem", businessID, dataSourceID, name)
	m.blobs[p] = append([]byte(nil), content...)
	return p, nil
}

func (m *mockBlobStore) Get(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[p]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (m *mockBlobStore) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, p)
	return nil
}

func (m *mockBlobStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// mockQueryStore implements driven.QueryStore and records calls.
type mockQueryStore struct {
	mu             sync.Mutex
	materialized   map[string]int
	staged         map[string]int
	discarded      []string
	dropped        []string
	droppedDBs     []string
	tables         []domain.TableInfo
	result         *domain.QueryResult
	lastStatement  string
	lastQuery      domain.StructuredQuery
	materializeErr error
	commitErr      error
	executeErr     error
	executeDelay   time.Duration
}

func newMockQueryStore() *mockQueryStore {
	return &mockQueryStore{
		materialized: make(map[string]int),
		staged:       make(map[string]int),
		result:       &domain.QueryResult{Columns: []string{"n"}, Rows: []map[string]any{{"n": "1"}}},
	}
}

func (m *mockQueryStore) Materialize(ctx context.Context, ds *domain.DataSource, records []domain.Record) error {
	if err := m.StageSource(ctx, ds, records); err != nil {
		return err
	}
	return m.CommitSource(ctx, ds)
}

func (m *mockQueryStore) StageSource(_ context.Context, ds *domain.DataSource, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.materializeErr != nil {
		return m.materializeErr
	}
	m.staged[ds.ID] = len(records)
	return nil
}

func (m *mockQueryStore) CommitSource(_ context.Context, ds *domain.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	n, ok := m.staged[ds.ID]
	if !ok {
		return domain.ErrNotFound
	}
	delete(m.staged, ds.ID)
	m.materialized[ds.ID] = n
	return nil
}

func (m *mockQueryStore) DiscardStaged(_ context.Context, ds *domain.DataSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, ds.ID)
	m.discarded = append(m.discarded, ds.ID)
	return nil
}

func (m *mockQueryStore) DropSource(_ context.Context, _, dataSourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.materialized, dataSourceID)
	m.dropped = append(m.dropped, dataSourceID)
	return nil
}

func (m *mockQueryStore) Tables(_ context.Context, _ string) ([]domain.TableInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.TableInfo{}, m.tables...), nil
}

func (m *mockQueryStore) ExecuteStructured(ctx context.Context, _ string, q domain.StructuredQuery) (*domain.QueryResult, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = q
	return m.result, m.executeErr
}

func (m *mockQueryStore) ExecuteRaw(ctx context.Context, _ string, statement string, _ int) (*domain.QueryResult, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastStatement = statement
	return m.result, m.executeErr
}

func (m *mockQueryStore) wait(ctx context.Context) error {
	if m.executeDelay == 0 {
		return nil
	}
	select {
	case <-time.After(m.executeDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockQueryStore) DropDatabase(_ context.Context, databaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedDBs = append(m.droppedDBs, databaseID)
	return nil
}

func (m *mockQueryStore) Close() error { return nil }

// recordingNotifier implements driven.StatusNotifier and keeps events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.StatusEvent
}

func (n *recordingNotifier) Publish(e domain.StatusEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) statuses() []domain.DataSourceStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.DataSourceStatus, 0, len(n.events))
	for _, e := range n.events {
		if len(out) == 0 || out[len(out)-1] != e.Status {
			out = append(out, e.Status)
		}
	}
	return out
}

func (n *recordingNotifier) last() domain.StatusEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

// flakyIndex wraps a vector index and fails the nth Upsert call.
type flakyIndex struct {
	driven.VectorIndex

	mu      sync.Mutex
	calls   int
	failOn  int
	failErr error
}

func (f *flakyIndex) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.failOn
	f.mu.Unlock()
	if fail {
		return f.failErr
	}
	return f.VectorIndex.Upsert(ctx, points)
}

// stallingBindingStore holds its first ActiveBindings call after the store
// read until resume is closed.
type stallingBindingStore struct {
	*memory.Store
	read   chan struct{}
	resume chan struct{}
}

func newStallingBindingStore() *stallingBindingStore {
	return &stallingBindingStore{Store: memory.NewStore(), read: make(chan struct{}), resume: make(chan struct{})}
}

func (s *stallingBindingStore) ActiveBindings(ctx context.Context, agentID, businessID string) ([]domain.Binding, error) {
	active, err := s.Store.ActiveBindings(ctx, agentID, businessID)
	if read := s.read; read != nil {
		s.read = nil
		close(read)
		<-s.resume
	}
	return active, err
}

// mockEmbedder implements driven.EmbeddingService with a fixed vector.
type mockEmbedder struct {
	vector []float32
	err    error
	block  bool
}

func (m *mockEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.vector, m.err
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := m.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int { return len(m.vector) }
func (m *mockEmbedder) ModelName() string { return "mock" }
func (m *mockEmbedder) Close() error { return nil }

// stubVectorIndex returns fixed hits and records the filter.
type stubVectorIndex struct {
	hits       []domain.VectorHit
	err        error
	lastFilter domain.VectorFilter
	lastLimit  int
	deleted    []string
}

func (s *stubVectorIndex) Upsert(context.Context, []domain.VectorPoint) error { return s.err }

func (s *stubVectorIndex) Search(_ context.Context, _ []float32, f domain.VectorFilter, limit int) ([]domain.VectorHit, error) {
	s.lastFilter = f
	s.lastLimit = limit
	return s.hits, s.err
}

func (s *stubVectorIndex) DeleteBySource(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return s.err
}

func (s *stubVectorIndex) DeletePoints(_ context.Context, ids []string) error {
	s.deleted = append(s.deleted, ids...)
	return s.err
}

func (s *stubVectorIndex) Close() error { return nil }

var errBoom = errors.New("boom")

// --- Fixture ---

type fixture struct {
	store    *memory.Store
	vectors  *vectormem.Index
	blobs    *mockBlobStore
	query    *mockQueryStore
	notifier *recordingNotifier
	index    *KnowledgeIndexService
	pipeline *IngestionPipeline
	intake   *IntakeService
}

// newFixture wires the ingestion path with in-memory adapters. When wrap is
// non-nil it decorates the vector index.
func newFixture(wrap func(driven.VectorIndex) driven.VectorIndex, cfg PipelineConfig) *fixture {
	f := &fixture{
		store:    memory.NewStore(),
		vectors:  vectormem.New(64),
		blobs:    newMockBlobStore(),
		query:    newMockQueryStore(),
		notifier: &recordingNotifier{},
	}
	var vi driven.VectorIndex = f.vectors
	if wrap != nil {
		vi = wrap(vi)
	}
	f.index = NewKnowledgeIndexService(hashing.NewEmbeddingService(64), vi, KnowledgeIndexConfig{BatchSize: 1, Parallelism: 1})
	f.pipeline = NewIngestionPipeline(PipelineDeps{
		Sources:    f.store,
		Chunks:     f.store,
		Jobs:       f.store,
		Blobs:      f.blobs,
		Extractors: extractors.NewSet(nil),
		Chunker:    chunker.New(),
		Index:      f.index,
		Query:      f.query,
		Notifier:   f.notifier,
	}, cfg)
	f.intake = NewIntakeService(IntakeDeps{
		Sources:   f.store,
		Databases: f.store,
		Blobs:     f.blobs,
		Query:     f.query,
		Index:     f.index,
		Ingestion: f.pipeline,
	}, 1<<20)
	return f
}

func (f *fixture) createDatabase(ctx context.Context, id, businessID string) *domain.BusinessDatabase {
	db := &domain.BusinessDatabase{
		ID:         id,
		BusinessID: businessID,
		Name:       "db " + id,
		Status:     domain.DatabaseActive,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := f.store.CreateDatabase(ctx, db); err != nil {
		panic(err)
	}
	return db
}

func (m *mockQueryStore) materializedRows(dataSourceID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.materialized[dataSourceID]
	return n, ok
}

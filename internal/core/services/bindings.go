package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driven"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure BindingRegistry implements the interface.
var _ driving.BindingRegistry = (*BindingRegistry)(nil)

// DefaultBindingCacheTTL is how long a resolved database set is reused.
const DefaultBindingCacheTTL = time.Minute

type bindingKey struct {
	agentID    string
	businessID string
}

type bindingEntry struct {
	set     domain.DatabaseSet
	expires time.Time
}

// BindingRegistry resolves agents to their authorized databases and caches
// the result per agent and business.
type BindingRegistry struct {
	bindings  driven.BindingStore
	databases driven.DatabaseStore
	ttl       time.Duration

	mu          sync.Mutex
	cache       map[bindingKey]bindingEntry
	generations map[string]uint64 // invalidations per agent
	subscribers []func(agentID string)
}

// NewBindingRegistry creates a binding registry.
func NewBindingRegistry(bindings driven.BindingStore, databases driven.DatabaseStore, ttl time.Duration) *BindingRegistry {
	if ttl <= 0 {
		ttl = DefaultBindingCacheTTL
	}
	return &BindingRegistry{
		bindings:    bindings,
		databases:   databases,
		ttl:         ttl,
		cache:       make(map[bindingKey]bindingEntry),
		generations: make(map[string]uint64),
	}
}

// Resolve returns the databases the agent may query in the business.
// An agent without bindings resolves to an empty set.
func (r *BindingRegistry) Resolve(ctx context.Context, agentID, businessID string) (domain.DatabaseSet, error) {
	if agentID == "" || businessID == "" {
		return domain.DatabaseSet{}, fmt.Errorf("%w: agent id and business id are required", domain.ErrInvalidInput)
	}
	key := bindingKey{agentID: agentID, businessID: businessID}

	r.mu.Lock()
	if e, ok := r.cache[key]; ok && time.Now().Before(e.expires) {
		r.mu.Unlock()
		return e.set, nil
	}
	// A read that races an invalidation is returned but not cached.
	gen := r.generations[agentID]
	r.mu.Unlock()

	active, err := r.bindings.ActiveBindings(ctx, agentID, businessID)
	if err != nil {
		return domain.DatabaseSet{}, fmt.Errorf("resolve bindings: %w", err)
	}
	ids := make([]string, 0, len(active))
	for _, b := range active {
		ids = append(ids, b.DatabaseID)
	}
	set := domain.NewDatabaseSet(ids...)

	r.mu.Lock()
	if r.generations[agentID] == gen {
		r.cache[key] = bindingEntry{set: set, expires: time.Now().Add(r.ttl)}
	}
	r.mu.Unlock()
	return set, nil
}

// Authorize reports whether the session may query the database.
func (r *BindingRegistry) Authorize(s *domain.Session, databaseID string) bool {
	return s != nil && databaseID != "" && s.Authorized(databaseID)
}

// Create adds an active binding. The database must belong to the binding's
// business.
func (r *BindingRegistry) Create(ctx context.Context, b *domain.Binding) (*domain.Binding, error) {
	if b.AgentID == "" || b.BusinessID == "" || b.DatabaseID == "" {
		return nil, fmt.Errorf("%w: agent id, business id and database id are required", domain.ErrInvalidInput)
	}
	db, err := r.databases.GetDatabase(ctx, b.DatabaseID)
	if err != nil {
		return nil, err
	}
	if db.BusinessID != b.BusinessID {
		return nil, domain.ErrNotFound
	}

	created := *b
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Active = true
	created.CreatedAt = time.Now().UTC()
	if err := r.bindings.CreateBinding(ctx, &created); err != nil {
		return nil, err
	}

	logger.Info("bound agent %s to database %s", created.AgentID, created.DatabaseID)
	r.changed(created.AgentID)
	return &created, nil
}

// List lists a database's bindings.
func (r *BindingRegistry) List(ctx context.Context, databaseID string) ([]domain.Binding, error) {
	return r.bindings.ListBindings(ctx, databaseID)
}

// Delete removes a binding.
func (r *BindingRegistry) Delete(ctx context.Context, bindingID string) error {
	b, err := r.bindings.GetBinding(ctx, bindingID)
	if err != nil {
		return err
	}
	if err := r.bindings.DeleteBinding(ctx, bindingID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	logger.Info("unbound agent %s from database %s", b.AgentID, b.DatabaseID)
	r.changed(b.AgentID)
	return nil
}

// Subscribe registers fn to run after an agent's bindings change.
func (r *BindingRegistry) Subscribe(fn func(agentID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

// Invalidate drops cached sets of an agent and discards any resolve of it
// still reading the store.
func (r *BindingRegistry) Invalidate(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[agentID]++
	for k := range r.cache {
		if k.agentID == agentID {
			delete(r.cache, k)
		}
	}
}

func (r *BindingRegistry) changed(agentID string) {
	r.Invalidate(agentID)
	r.mu.Lock()
	subs := append([]func(string){}, r.subscribers...)
	r.mu.Unlock()
	for _, fn := range subs {
		fn(agentID)
	}
}

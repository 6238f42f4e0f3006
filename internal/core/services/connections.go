package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Ensure ConnectionRegistry implements the interface.
var _ driving.ConnectionRegistry = (*ConnectionRegistry)(nil)

// DefaultMaxConnections caps concurrent protocol connections.
const DefaultMaxConnections = 100

// ConnectionRegistry is the single owner of live protocol sessions.
type ConnectionRegistry struct {
	max       int
	startedAt time.Time

	mu       sync.RWMutex
	sessions map[string]*domain.Session

	total   atomic.Int64
	queries atomic.Int64
}

// NewConnectionRegistry creates a registry holding at most limit sessions.
func NewConnectionRegistry(limit int) *ConnectionRegistry {
	if limit <= 0 {
		limit = DefaultMaxConnections
	}
	return &ConnectionRegistry{
		max:       limit,
		startedAt: time.Now(),
		sessions:  make(map[string]*domain.Session),
	}
}

// Register adds a session.
func (r *ConnectionRegistry) Register(s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.max {
		return fmt.Errorf("%w: limit is %d", domain.ErrTooManyConnections, r.max)
	}
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("%w: session %s already registered", domain.ErrInvalidInput, s.ID)
	}
	r.sessions[s.ID] = s
	r.total.Add(1)
	return nil
}

// Unregister removes a session and marks it closed.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Lookup returns a live session.
func (r *ConnectionRegistry) Lookup(id string) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns snapshots ordered by connection time.
func (r *ConnectionRegistry) Sessions() []domain.SessionInfo {
	r.mu.RLock()
	out := make([]domain.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecordQuery counts a dispatched operation.
func (r *ConnectionRegistry) RecordQuery() {
	r.queries.Add(1)
}

// Stats returns totals.
func (r *ConnectionRegistry) Stats() domain.ServerStats {
	r.mu.RLock()
	active := len(r.sessions)
	r.mu.RUnlock()
	return domain.ServerStats{
		TotalConnections:  r.total.Load(),
		ActiveConnections: active,
		TotalQueries:      r.queries.Load(),
		Uptime:            time.Since(r.startedAt),
		StartedAt:         r.startedAt,
	}
}

// Watch keeps authenticated sessions in step with binding changes.
func (r *ConnectionRegistry) Watch(bindings driving.BindingRegistry) {
	bindings.Subscribe(func(agentID string) {
		r.refresh(bindings, agentID)
	})
}

func (r *ConnectionRegistry) refresh(bindings driving.BindingRegistry, agentID string) {
	r.mu.RLock()
	var affected []*domain.Session
	for _, s := range r.sessions {
		if s.State() != domain.SessionAuthenticated {
			continue
		}
		if agent, _ := s.Identity(); agent == agentID {
			affected = append(affected, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range affected {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, business := s.Identity()
		set, err := bindings.Resolve(ctx, agentID, business)
		cancel()
		if err != nil {
			logger.Warn("failed to refresh bindings of session %s: %v", s.ID, err)
			continue
		}
		s.SetDatabases(set)
		logger.Debug("session %s now has %d databases", s.ID, set.Len())
	}
}

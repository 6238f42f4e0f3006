package domain

import (
	"sync"
	"time"
)

// SessionState is the state of an agent protocol connection.
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionClosed          SessionState = "closed"
)

// Session is the runtime state of one agent connection.
// It is never persisted and never shared across connections.
type Session struct {
	// ID identifies the connection.
	ID string

	// RemoteAddr is the peer address, if known.
	RemoteAddr string

	// ConnectedAt is when the connection was accepted.
	ConnectedAt time.Time

	mu           sync.RWMutex
	state        SessionState
	agentID      string
	businessID   string
	databases    DatabaseSet
	lastActivity time.Time
	requests     int64
}

// NewSession creates an unauthenticated session.
func NewSession(id, remoteAddr string, now time.Time) *Session {
	return &Session{
		ID:           id,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		state:        SessionUnauthenticated,
		databases:    NewDatabaseSet(),
		lastActivity: now,
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the authenticated agent and business.
func (s *Session) Identity() (agentID, businessID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID, s.businessID
}

// Authenticate binds the session to an agent and its authorized databases.
func (s *Session) Authenticate(agentID, businessID string, databases DatabaseSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionAuthenticated
	s.agentID = agentID
	s.businessID = businessID
	s.databases = databases
}

// SetDatabases replaces the authorized set after a binding change.
func (s *Session) SetDatabases(databases DatabaseSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.databases = databases
}

// Databases returns the authorized set.
func (s *Session) Databases() DatabaseSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.databases
}

// Authorized reports whether the session may touch the database.
// Unauthenticated sessions are never authorized.
func (s *Session) Authorized(databaseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == SessionAuthenticated && s.databases.Contains(databaseID)
}

// Touch records activity and counts a request.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	s.requests++
}

// Close marks the session closed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionClosed
}

// Snapshot returns a copy suitable for reporting.
func (s *Session) Snapshot() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:           s.ID,
		RemoteAddr:   s.RemoteAddr,
		State:        s.state,
		AgentID:      s.agentID,
		BusinessID:   s.businessID,
		Databases:    s.databases.IDs(),
		ConnectedAt:  s.ConnectedAt,
		LastActivity: s.lastActivity,
		Requests:     s.requests,
	}
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID           string       `json:"id"`
	RemoteAddr   string       `json:"remote_addr,omitempty"`
	State        SessionState `json:"state"`
	AgentID      string       `json:"agent_id,omitempty"`
	BusinessID   string       `json:"business_id,omitempty"`
	Databases    []string     `json:"databases"`
	ConnectedAt  time.Time    `json:"connected_at"`
	LastActivity time.Time    `json:"last_activity"`
	Requests     int64        `json:"requests"`
}

// ServerStats summarises protocol server activity.
type ServerStats struct {
	TotalConnections  int64         `json:"total_connections"`
	ActiveConnections int           `json:"active_connections"`
	TotalQueries      int64         `json:"total_queries"`
	Uptime            time.Duration `json:"uptime_ns"`
	StartedAt         time.Time     `json:"started_at"`
}

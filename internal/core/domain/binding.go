package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Binding is an authorization edge from an agent to a business database.
// It is the sole source of truth for query authorization.
type Binding struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	BusinessID string          `json:"business_id"`
	DatabaseID string          `json:"database_id"`
	Config     json.RawMessage `json:"config,omitempty"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DatabaseSet is an immutable set of authorized database ids.
type DatabaseSet struct {
	ids map[string]struct{}
}

// NewDatabaseSet builds a set from ids.
func NewDatabaseSet(ids ...string) DatabaseSet {
	s := DatabaseSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s DatabaseSet) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids.
func (s DatabaseSet) Len() int {
	return len(s.ids)
}

// IDs returns the ids in sorted order.
func (s DatabaseSet) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

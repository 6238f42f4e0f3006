package mcpws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// Operations accepted from agents.
const (
	OpAuthenticate    = "authenticate"
	OpListDatabases   = "list_databases"
	OpQueryDatabase   = "query_database"
	OpSearchKnowledge = "search_knowledge"
	OpGetSchema       = "get_schema"
	OpExecuteQuery    = "execute_query"
	OpPing            = "ping"
)

// Response types.
const (
	TypeWelcome      = "welcome"
	TypeAuthSuccess  = "auth_success"
	TypeDatabaseList = "database_list"
	TypeQueryResult  = "query_result"
	TypeSearchResult = "search_result"
	TypeSchemaInfo   = "schema_info"
	TypeSQLResult    = "sql_result"
	TypePong         = "pong"
	TypeError        = "error"
)

// Error codes carried by error responses.
const (
	CodeProtocol         = "protocol_error"
	CodeNotAuthenticated = "not_authenticated"
	CodeAccessDenied     = "access_denied"
	CodeUnsafeQuery      = "unsafe_query"
	CodeUpstreamTimeout  = "upstream_timeout"
	CodeUpstreamError    = "upstream_error"
	CodeInvalidRequest   = "invalid_request"
	CodeInternal         = "internal_error"
)

// SupportedOperations is announced in the welcome message.
var SupportedOperations = []string{
	OpAuthenticate,
	OpListDatabases,
	OpQueryDatabase,
	OpSearchKnowledge,
	OpGetSchema,
	OpExecuteQuery,
	OpPing,
}

// Request is one agent message.
type Request struct {
	Operation      string          `json:"operation"`
	RequestID      json.RawMessage `json:"request_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	BusinessID     string          `json:"business_id,omitempty"`
	DatabaseID     string          `json:"database_id,omitempty"`
	Query          json.RawMessage `json:"query,omitempty"`
	SQL            string          `json:"sql,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	ScoreThreshold float64         `json:"score_threshold,omitempty"`
}

// Response is one server message. RequestID is copied from the request
// without reinterpretation.
type Response struct {
	Type       string          `json:"type"`
	RequestID  json.RawMessage `json:"request_id,omitempty"`
	DatabaseID string          `json:"database_id,omitempty"`
	Query      string          `json:"query,omitempty"`
	Data       any             `json:"data,omitempty"`
	Results    any             `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
	Code       string          `json:"code,omitempty"`
}

// Welcome is the data of the welcome message.
type Welcome struct {
	Server              string          `json:"server"`
	Version             string          `json:"version"`
	Capabilities        map[string]bool `json:"capabilities"`
	SupportedOperations []string        `json:"supported_operations"`
}

func newWelcome(version string) Response {
	return Response{
		Type: TypeWelcome,
		Data: Welcome{
			Server:  "knowledgehub",
			Version: version,
			Capabilities: map[string]bool{
				"database_query":       true,
				"vector_search":        true,
				"semantic_search":      true,
				"data_retrieval":       true,
				"schema_introspection": true,
			},
			SupportedOperations: SupportedOperations,
		},
	}
}

// errorResponse maps err to a wire code. Unclassified errors are reported
// without their detail.
func errorResponse(id json.RawMessage, err error) Response {
	code, msg := classify(err)
	return Response{Type: TypeError, RequestID: id, Code: code, Error: msg}
}

func classify(err error) (code, msg string) {
	switch {
	case errors.Is(err, domain.ErrProtocol):
		return CodeProtocol, err.Error()
	case errors.Is(err, domain.ErrNotAuthenticated):
		return CodeNotAuthenticated, "not authenticated"
	case errors.Is(err, domain.ErrAccessDenied):
		return CodeAccessDenied, "access denied to this database"
	case errors.Is(err, domain.ErrUnsafeQuery):
		return CodeUnsafeQuery, err.Error()
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeUpstreamTimeout, "upstream timeout"
	case errors.Is(err, domain.ErrIndexUpstream):
		return CodeUpstreamError, "search backend unavailable"
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		return CodeInvalidRequest, err.Error()
	default:
		return CodeInternal, "internal server error"
	}
}

// decodeRequest parses a raw message. Malformed JSON and a missing
// operation are protocol errors.
func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("%w: invalid JSON format", domain.ErrProtocol)
	}
	if req.Operation == "" {
		return req, fmt.Errorf("%w: missing operation", domain.ErrProtocol)
	}
	return req, nil
}

// structuredQuery reads the query field of query_database: an object is a
// structured query, a string is a text match, absent means every row.
func structuredQuery(req Request) (domain.StructuredQuery, error) {
	var q domain.StructuredQuery
	raw := bytes.TrimSpace(req.Query)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		if err := json.Unmarshal(raw, &q.Text); err != nil {
			return q, fmt.Errorf("%w: query: %v", domain.ErrInvalidInput, err)
		}
	case raw[0] == '{':
		if err := json.Unmarshal(raw, &q); err != nil {
			return q, fmt.Errorf("%w: query: %v", domain.ErrInvalidInput, err)
		}
	default:
		return q, fmt.Errorf("%w: query must be an object or a string", domain.ErrInvalidInput)
	}
	if q.Limit == 0 {
		q.Limit = req.Limit
	}
	return q, nil
}

// textQuery reads the query field of search_knowledge.
func textQuery(req Request) (string, error) {
	var s string
	if err := json.Unmarshal(req.Query, &s); err != nil || s == "" {
		return "", fmt.Errorf("%w: query must be a non-empty string", domain.ErrInvalidInput)
	}
	return s, nil
}

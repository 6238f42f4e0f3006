package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// uriScheme is the custom URI scheme for knowledgehub resources.
	uriScheme = "knowledgehub://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "databases",
		Name:        "databases",
		Description: "Business databases bound to this agent",
		MIMEType:    "application/json",
	}, s.handleDatabasesResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "databases/{databaseId}/schema",
		Name:        "database-schema",
		Description: "Schema, tables and data sources of a database",
		MIMEType:    "application/json",
	}, s.handleSchemaResource)
}

// handleDatabasesResource lists the agent's databases.
func (s *Server) handleDatabasesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, err
	}
	dbs, err := s.ports.Gateway.ListDatabases(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}
	return jsonResource(req.Params.URI, dbs)
}

// handleSchemaResource describes one database.
func (s *Server) handleSchemaResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	databaseID := extractDatabaseID(req.Params.URI)
	if databaseID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	session, err := s.agentSession(ctx)
	if err != nil {
		return nil, err
	}
	info, err := s.ports.Gateway.GetSchema(ctx, session, databaseID)
	if err != nil {
		// Unbound and unknown databases look the same.
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return jsonResource(req.Params.URI, info)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractDatabaseID extracts the database ID from a URI like
// knowledgehub://databases/{databaseId}/schema.
func extractDatabaseID(uri string) string {
	const prefix = uriScheme + "databases/"
	const suffix = "/schema"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	uri = strings.TrimPrefix(uri, prefix)
	if !strings.HasSuffix(uri, suffix) {
		return ""
	}

	id := strings.TrimSuffix(uri, suffix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

// Package mcp exposes the agent operations as Model Context Protocol tools
// and resources, over stdio or streamable HTTP, for one fixed agent identity.
package mcp

import "errors"

var (
	// ErrMissingGateway is returned when the gateway is not provided.
	ErrMissingGateway = errors.New("mcp: gateway is required")

	// ErrMissingIdentity is returned when the agent or business is not set.
	ErrMissingIdentity = errors.New("mcp: agent id and business id are required")
)

package mcp

import (
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
)

// Ports aggregates the driving ports and the identity the server acts as.
type Ports struct {
	// Gateway carries out agent operations.
	Gateway driving.Gateway

	// Connections, when set, lists the bridge session with the websocket
	// sessions and keeps its databases in step with binding changes.
	Connections driving.ConnectionRegistry

	// AgentID is the agent every call is made as.
	AgentID string

	// BusinessID is the agent's business.
	BusinessID string
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Gateway == nil {
		return ErrMissingGateway
	}
	if p.AgentID == "" || p.BusinessID == "" {
		return ErrMissingIdentity
	}
	return nil
}

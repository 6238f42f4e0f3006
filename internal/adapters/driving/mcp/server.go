package mcp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
)

// Version is the MCP server version.
const Version = "0.1.0"

// Server is the MCP server for knowledgehub.
type Server struct {
	ports  *Ports
	server *mcp.Server

	mu      sync.Mutex
	session *domain.Session
}

// NewServer creates a new MCP server with the given ports.
func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	impl := &mcp.Implementation{
		Name:    "knowledgehub",
		Version: Version,
	}

	s := &Server{
		ports:  ports,
		server: mcp.NewServer(impl, nil),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	defer s.release()
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts the MCP server over HTTP on the specified address.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	defer s.release()
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// agentSession returns the authenticated session, authenticating on first
// use.
func (s *Server) agentSession(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil && s.session.State() == domain.SessionAuthenticated {
		return s.session, nil
	}

	session := domain.NewSession("mcp-"+uuid.NewString(), "mcp", time.Now())
	if s.ports.Connections != nil {
		if err := s.ports.Connections.Register(session); err != nil {
			return nil, err
		}
	}
	if _, err := s.ports.Gateway.Authenticate(ctx, session, s.ports.AgentID, s.ports.BusinessID); err != nil {
		if s.ports.Connections != nil {
			s.ports.Connections.Unregister(session.ID)
		}
		return nil, err
	}
	s.session = session
	return session, nil
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return
	}
	if s.ports.Connections != nil {
		s.ports.Connections.Unregister(s.session.ID)
	} else {
		s.session.Close()
	}
	s.session = nil
}

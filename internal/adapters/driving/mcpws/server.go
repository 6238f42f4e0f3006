package mcpws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/custodia-labs/knowledgehub/internal/core/domain"
	"github.com/custodia-labs/knowledgehub/internal/core/ports/driving"
	"github.com/custodia-labs/knowledgehub/internal/logger"
)

// Version is announced in the welcome message.
const Version = "1.0.0"

// maxMessageBytes caps one inbound message.
const maxMessageBytes = 1 << 20

// Config tunes connection handling. Zero fields take their defaults.
type Config struct {
	// MaxInFlight caps concurrent requests per connection.
	MaxInFlight int

	// IdleTimeout closes connections that send no request for this long.
	IdleTimeout time.Duration

	// PingInterval is the keepalive period. A peer that misses two pongs
	// is dropped.
	PingInterval time.Duration

	// RequestTimeout bounds one operation.
	RequestTimeout time.Duration

	// WriteTimeout bounds one outbound message.
	WriteTimeout time.Duration
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:    8,
		IdleTimeout:    5 * time.Minute,
		PingInterval:   30 * time.Second,
		RequestTimeout: 30 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = def.MaxInFlight
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	return c
}

// Server is the agent protocol server.
type Server struct {
	gateway  driving.Gateway
	registry driving.ConnectionRegistry
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*connection]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a protocol server.
func NewServer(gateway driving.Gateway, registry driving.ConnectionRegistry, cfg Config) (*Server, error) {
	if gateway == nil {
		return nil, errors.New("gateway is required")
	}
	if registry == nil {
		return nil, errors.New("connection registry is required")
	}
	return &Server{
		gateway:  gateway,
		registry: registry,
		cfg:      cfg.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Agents authenticate in-band.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*connection]struct{}),
	}, nil
}

// Handler routes websocket upgrades on / and /mcp.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.ServeHTTP)
	r.Get("/mcp", s.ServeHTTP)
	return r
}

// ListenAndServe serves until ctx is cancelled, then closes every
// connection.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
		s.Close()
	}()

	logger.Info("agent protocol server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close closes every open connection and waits for their handlers.
func (s *Server) Close() {
	s.mu.Lock()
	for c := range s.conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket upgrade failed: %v", err)
		return
	}

	session := domain.NewSession(uuid.NewString(), r.RemoteAddr, time.Now())
	if err := s.registry.Register(session); err != nil {
		logger.Warn("rejecting connection from %s: %v", r.RemoteAddr, err)
		deadline := time.Now().Add(s.cfg.WriteTimeout)
		ws.WriteControl(websocket.CloseMessage, //nolint:errcheck
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"), deadline)
		ws.Close()
		return
	}

	c := newConnection(s, ws, session)
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.registry.Unregister(session.ID)
		s.wg.Done()
	}()

	logger.Info("agent connection %s opened from %s", session.ID, r.RemoteAddr)
	c.run()
	logger.Info("agent connection %s closed", session.ID)
}

// Dispatch runs one request for a session and builds the reply.
func (s *Server) Dispatch(ctx context.Context, session *domain.Session, req Request) Response {
	resp, err := s.dispatch(ctx, session, req)
	if err != nil {
		if code, _ := classify(err); code == CodeInternal {
			logger.Error("operation %s on %s failed: %v", req.Operation, session.ID, err)
		} else {
			logger.Debug("operation %s on %s rejected: %v", req.Operation, session.ID, err)
		}
		return errorResponse(req.RequestID, err)
	}
	resp.RequestID = req.RequestID
	return resp
}

func (s *Server) dispatch(ctx context.Context, session *domain.Session, req Request) (Response, error) {
	if req.Operation != OpAuthenticate {
		if err := requireAuthenticated(session); err != nil {
			return Response{}, err
		}
	}

	switch req.Operation {
	case OpPing:
		return Response{Type: TypePong}, nil

	case OpAuthenticate:
		res, err := s.gateway.Authenticate(ctx, session, req.AgentID, req.BusinessID)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: TypeAuthSuccess, Data: res}, nil

	case OpListDatabases:
		dbs, err := s.gateway.ListDatabases(ctx, session)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: TypeDatabaseList, Data: dbs}, nil

	case OpQueryDatabase:
		q, err := structuredQuery(req)
		if err != nil {
			return Response{}, err
		}
		res, err := s.gateway.QueryDatabase(ctx, session, req.DatabaseID, q)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: TypeQueryResult, DatabaseID: req.DatabaseID, Results: res}, nil

	case OpSearchKnowledge:
		text, err := textQuery(req)
		if err != nil {
			return Response{}, err
		}
		results, err := s.gateway.SearchKnowledge(ctx, session, driving.KnowledgeQuery{
			Query:          text,
			DatabaseID:     req.DatabaseID,
			Limit:          req.Limit,
			ScoreThreshold: req.ScoreThreshold,
		})
		if err != nil {
			return Response{}, err
		}
		return Response{Type: TypeSearchResult, Query: text, Results: results}, nil

	case OpGetSchema:
		info, err := s.gateway.GetSchema(ctx, session, req.DatabaseID)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: TypeSchemaInfo, DatabaseID: req.DatabaseID, Data: info}, nil

	case OpExecuteQuery:
		res, err := s.gateway.ExecuteQuery(ctx, session, req.DatabaseID, req.SQL)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: TypeSQLResult, DatabaseID: req.DatabaseID, Query: req.SQL, Results: res}, nil

	default:
		return Response{}, fmt.Errorf("%w: unknown operation %q", domain.ErrProtocol, req.Operation)
	}
}

// requireAuthenticated gates every operation but authenticate, before the
// payload is decoded.
func requireAuthenticated(session *domain.Session) error {
	if session.State() != domain.SessionAuthenticated {
		return domain.ErrNotAuthenticated
	}
	return nil
}

// connection is one websocket and its session.
type connection struct {
	srv     *Server
	ws      *websocket.Conn
	session *domain.Session

	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	inflight  sync.WaitGroup
	slots     chan struct{}
	lastReq   time.Time
	lastReqMu sync.Mutex
	closeOnce sync.Once
}

func newConnection(srv *Server, ws *websocket.Conn, session *domain.Session) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		srv:     srv,
		ws:      ws,
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		slots:   make(chan struct{}, srv.cfg.MaxInFlight),
		lastReq: time.Now(),
	}
}

func (c *connection) run() {
	cfg := c.srv.cfg
	pongWait := 2 * cfg.PingInterval

	c.ws.SetReadLimit(maxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := c.write(newWelcome(Version)); err != nil {
		c.close(websocket.CloseInternalServerErr, "")
		return
	}

	go c.keepalive()

	for {
		msgType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("connection %s read error: %v", c.session.ID, err)
			}
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		c.touch()

		select {
		case c.slots <- struct{}{}:
		case <-c.ctx.Done():
		}
		if c.ctx.Err() != nil {
			break
		}
		c.inflight.Add(1)
		go c.handle(raw)
	}

	c.cancel()
	c.inflight.Wait()
	c.close(websocket.CloseNormalClosure, "")
}

func (c *connection) handle(raw []byte) {
	defer func() {
		<-c.slots
		c.inflight.Done()
	}()

	req, err := decodeRequest(raw)
	if err != nil {
		c.write(errorResponse(req.RequestID, err)) //nolint:errcheck
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.srv.cfg.RequestTimeout)
	defer cancel()

	c.session.Touch(time.Now())
	c.srv.registry.RecordQuery()
	resp := c.srv.Dispatch(ctx, c.session, req)
	if c.ctx.Err() != nil {
		return
	}
	if err := c.write(resp); err != nil {
		logger.Debug("connection %s write failed: %v", c.session.ID, err)
	}
}

// keepalive pings the peer and closes the connection once it has been
// idle for longer than the idle timeout.
func (c *connection) keepalive() {
	cfg := c.srv.cfg
	ticker := time.NewTicker(min(cfg.PingInterval, cfg.IdleTimeout))
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.idleFor() >= cfg.IdleTimeout {
				logger.Info("closing idle connection %s", c.session.ID)
				c.close(websocket.CloseNormalClosure, "idle timeout")
				return
			}
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug("ping to %s failed: %v", c.session.ID, err)
				c.close(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}

func (c *connection) touch() {
	c.lastReqMu.Lock()
	c.lastReq = time.Now()
	c.lastReqMu.Unlock()
}

func (c *connection) idleFor() time.Duration {
	c.lastReqMu.Lock()
	defer c.lastReqMu.Unlock()
	return time.Since(c.lastReq)
}

func (c *connection) write(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding %s response: %w", resp.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)) //nolint:errcheck
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame and closes the socket. In-flight requests see
// their context cancelled.
func (c *connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		deadline := time.Now().Add(c.srv.cfg.WriteTimeout)
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline) //nolint:errcheck
		c.ws.Close()
	})
}

// Package httpserver is the Server (HTTP front-end, spec §4.8): the single
// /rpc entry point plus operational endpoints, grounded on the teacher's
// internal/server/server.go (mux.NewRouter, SecurityHeadersMiddleware,
// respondJSON/respondError idiom) and internal/mcp/server.go's
// Mcp-Session-Id-keyed streamable-HTTP dispatch.
package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fleetforge/fleetd/internal/auth"
	"github.com/fleetforge/fleetd/internal/resources"
	"github.com/fleetforge/fleetd/internal/session"
	"github.com/fleetforge/fleetd/internal/store"
	"github.com/fleetforge/fleetd/internal/supervisor"
	"github.com/fleetforge/fleetd/internal/tmux"
	"github.com/fleetforge/fleetd/internal/tools"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the Store and every domain component behind the HTTP surface
// named in §4.8.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *debugHub

	store      *store.Store
	auth       *auth.Auth
	tools      *tools.Registry
	resources  *resources.Catalog
	supervisor *supervisor.Supervisor
	tmux       *tmux.Controller
	sessions   *session.Manager

	host      string
	port      int
	startTime time.Time
}

// Config bundles Server's dependencies, all already constructed by the
// caller (cmd/fleetd's bootstrap sequence).
type Config struct {
	Store      *store.Store
	Auth       *auth.Auth
	Tools      *tools.Registry
	Resources  *resources.Catalog
	Supervisor *supervisor.Supervisor
	Tmux       *tmux.Controller
	Sessions   *session.Manager
	Host       string
	Port       int
}

// New builds a Server and its route table.
func New(cfg Config) *Server {
	s := &Server{
		hub:        newDebugHub(),
		store:      cfg.Store,
		auth:       cfg.Auth,
		tools:      cfg.Tools,
		resources:  cfg.Resources,
		supervisor: cfg.Supervisor,
		tmux:       cfg.Tmux,
		sessions:   cfg.Sessions,
		host:       cfg.Host,
		port:       cfg.Port,
		startTime:  time.Now(),
	}
	s.router = s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(securityHeadersMiddleware)

	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost, http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/recover", s.handleRecoverSession).Methods(http.MethodPost)
	r.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/config", s.handleUpdateConfig).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleDebugWS).Methods(http.MethodGet)

	return r
}

// Start runs the hub's fan-out loop and blocks serving HTTP until the
// process is signaled to stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	go s.hub.run()
	s.sessions.StartExpiredSweeper(context.Background())

	log.Printf("[HTTP] listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown implements §4.8's graceful shutdown: every in-memory session is
// marked disconnected (eligible for later recovery), transports are closed,
// and the HTTP listener drains in-flight requests before exiting. Persisted
// rows are retained.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleDebugWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HTTP] websocket upgrade failed: %v", err)
		return
	}
	client := &debugClient{conn: conn, send: make(chan []byte, wsBufferSize)}
	s.hub.register <- client
	go client.writePump()
	go client.readPump(s.hub)
}

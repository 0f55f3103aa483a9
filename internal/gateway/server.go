// Package gateway serves the HTTP and WebSocket API: user messaging,
// org inspection, artifact download, and the live event stream.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/hivemind/internal/agent"
	"github.com/nextlevelbuilder/hivemind/internal/archive"
	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/org"
	"github.com/nextlevelbuilder/hivemind/pkg/protocol"
)

// Server is the gateway front door.
type Server struct {
	cfg      *config.Config
	bus      *bus.Bus
	events   bus.EventPublisher
	org      *org.Store
	archive  *archive.Store
	arts     *artifacts.Store
	mgr      *agent.Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the gateway. archive may be nil; the message history
// endpoint then returns 404.
func NewServer(cfg *config.Config, b *bus.Bus, events bus.EventPublisher, store *org.Store, arc *archive.Store, arts *artifacts.Store, mgr *agent.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		bus:     b,
		events:  events,
		org:     store,
		archive: arc,
		arts:    arts,
		mgr:     mgr,
		logger:  logger,
		clients: make(map[string]*client),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin validates the WebSocket origin against the configured
// whitelist. No configuration allows everything; an empty Origin header
// (CLI and SDK clients) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.logger.Warn("security.cors_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the route table.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/agents", s.handleListAgents)
	mux.HandleFunc("GET /api/agents/{id}/messages", s.handleAgentMessages)
	mux.HandleFunc("POST /api/agents/{id}/abort", s.handleAbort)
	mux.HandleFunc("GET /api/roles", s.handleListRoles)
	mux.HandleFunc("GET /api/org/tree", s.handleOrgTree)
	mux.HandleFunc("GET /api/artifacts/{id}", s.handleGetArtifact)

	s.mux = mux
	return mux
}

// Start listens until ctx is done, then drains with a short grace
// period.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.BuildMux()}

	s.logger.Info("gateway starting", "addr", addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// PumpUserMessages forwards messages landing on the user queue to all
// connected WebSocket clients until ctx is done.
func (s *Server) PumpUserMessages(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				msg := s.bus.ReceiveNext(bus.UserID)
				if msg == nil {
					break
				}
				s.broadcast(bus.Event{Name: protocol.EventMessageSent, Payload: msg})
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(uuid.NewString(), conn, s)

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.events.Subscribe("ws:"+c.id, c.enqueue)

	defer func() {
		s.events.Unsubscribe("ws:" + c.id)
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		c.close()
	}()
	c.run(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": len(s.org.ListAgents()),
	})
}

func (s *Server) broadcast(event bus.Event) {
	s.events.Broadcast(event)
}

package control

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	logpkg "github.com/haukened/rr-filter/internal/filter/common/log"
	"github.com/haukened/rr-filter/internal/filter/services/engine"
)

// Engine is the stats/toggle slice of the filtering engine.
type Engine interface {
	Stats() engine.Stats
	Toggle() bool
}

// Updater triggers refresh cycles.
type Updater interface {
	ForceUpdate()
}

// Server exposes the three-operation control surface over HTTP:
//
//	GET  /control/status  - counters, domain count, toggle state, last update
//	POST /control/toggle  - flips the enable toggle, returns the new value
//	POST /control/update  - fire-and-forget refresh; observe via /status
type Server struct {
	addr    string
	engine  Engine
	updater Updater
	logger  logpkg.Logger

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	running bool
}

// New constructs a control Server listening on addr.
func New(addr string, e Engine, u Updater, logger logpkg.Logger) *Server {
	return &Server{
		addr:    addr,
		engine:  e,
		updater: u,
		logger:  logger,
	}
}

// Handler returns the control API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /control/status", s.handleStatus)
	mux.HandleFunc("POST /control/toggle", s.handleToggle)
	mux.HandleFunc("POST /control/update", s.handleUpdate)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleToggle(w http.ResponseWriter, _ *http.Request) {
	enabled := s.engine.Toggle()
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
}

func (s *Server) handleUpdate(w http.ResponseWriter, _ *http.Request) {
	s.updater.ForceUpdate()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "update triggered"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(map[string]any{"error": err.Error()}, "control_response_write_failed")
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("control server already running")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind control listener on %s: %w", s.addr, err)
	}

	s.ln = ln
	s.srv = &http.Server{Handler: s.Handler()}
	s.running = true

	s.logger.Info(map[string]any{"address": ln.Addr().String()}, "control API started")

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(map[string]any{"error": err.Error()}, "control serve failed")
		}
	}()

	return nil
}

// Stop closes the listener and all active connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.srv.Close()
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

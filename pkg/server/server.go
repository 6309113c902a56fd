package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the coordinator's HTTP front: the WebSocket upgrade
// endpoint plus health and metrics routes. Additional routes (the admin
// API) are mounted onto its router before Start.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	router   chi.Router
	upgrader websocket.Upgrader

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	stopped    bool
}

// New creates a server around an existing hub.
func New(cfg Config, hub *Hub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		log: log.With("component", "server"),
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Devices connect from anywhere on the fleet network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get(cfg.WSPath, s.handleWS)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

// Mount attaches an additional handler subtree to the server's router.
// Must be called before Start.
func (s *Server) Mount(pattern string, handler http.Handler) {
	s.router.Mount(pattern, handler)
}

// Hub returns the session hub.
func (s *Server) Hub() *Hub { return s.hub }

// Router returns the server's HTTP handler, for embedding in an
// existing server or in tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes the 400 itself.
		s.log.Warn("websocket upgrade rejected", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	go s.hub.handleConn(conn)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Start binds the listen address and serves until Stop. If the
// configured address cannot be bound, it falls back once to an
// ephemeral loopback port and logs the substitution, so a dev
// coordinator still comes up when the port is taken.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		fallback, ferr := net.Listen("tcp", "127.0.0.1:0")
		if ferr != nil {
			return err
		}
		s.log.Warn("configured address unavailable, using loopback fallback",
			"configured", s.cfg.Addr, "fallback", fallback.Addr().String(), "error", err)
		ln = fallback
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("listening", "addr", ln.Addr().String(), "ws_path", s.cfg.WSPath)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ErrServerClosed
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes all device sessions with a normal closure and shuts the
// HTTP server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	srv := s.httpServer
	s.mu.Unlock()

	s.hub.CloseAll(websocket.CloseNormalClosure, "coordinator shutting down")
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Error("shutdown error", "error", err)
			return err
		}
	}
	s.log.Info("server stopped")
	return nil
}

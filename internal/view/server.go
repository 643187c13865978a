// Package view serves display clients over a websocket. Each connection
// is one chat window.
package view

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/chatterbox/internal/chat"
	"github.com/matheus3301/chatterbox/internal/status"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the view listener: /ws for windows, /healthz and /metrics.
type Server struct {
	addr    string
	router  *mux.Router
	chat    *chat.Service
	machine *status.Machine
	logger  *zap.Logger

	server   *http.Server
	listener net.Listener
}

// NewServer creates a view server for addr. Nothing listens until Start.
func NewServer(addr string, svc *chat.Service, machine *status.Machine, logger *zap.Logger) *Server {
	s := &Server{
		addr:    addr,
		router:  mux.NewRouter(),
		chat:    svc,
		machine: machine,
		logger:  logger.With(zap.String("component", "view")),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ws", s.handleWS()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Listen binds the listener so address errors surface before Serve.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = l
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections until Shutdown.
func (s *Server) Serve() error {
	s.logger.Info("view server starting", zap.String("addr", s.Addr()))
	if err := s.server.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("view server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := s.machine.Current()
		code := http.StatusOK
		if state == status.Error {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": string(state)})
	}
}

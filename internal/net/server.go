package net

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/vyuha/server/internal/config"
	"github.com/vyuha/server/internal/handler"
)

// Server is the HTTP control surface: the JSON API plus the websocket
// snapshot stream.
type Server struct {
	deps      *handler.Deps
	hub       *Hub
	adminHash []byte
	http      *http.Server
	log       *zap.Logger
}

func NewServer(cfg config.HTTPConfig, deps *handler.Deps, hub *Hub, log *zap.Logger) *Server {
	s := &Server{
		deps: deps,
		hub:  hub,
		log:  log,
	}
	if cfg.AdminTokenHash != "" {
		s.adminHash = []byte(cfg.AdminTokenHash)
	}
	s.http = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/simulation", s.handleGetSimulation)
	mux.HandleFunc("POST /api/simulation", s.handlePostSimulation)
	mux.HandleFunc("POST /api/agent-action", s.handleAgentAction)
	mux.HandleFunc("POST /api/god-mode", s.adminOnly(s.handleGodMode))
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
	return s.recoverer(mux)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("http api listening",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("admin_auth", s.adminHash != nil))
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests, waits for in-flight ones and drops
// websocket observers.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic in http handler",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				writeError(w, http.StatusInternalServerError, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Package server exposes the relay over HTTP: the websocket route plus a
// health endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/abdelmounim-dev/chat-relay/broker"
	"github.com/abdelmounim-dev/chat-relay/config"
	"github.com/abdelmounim-dev/chat-relay/websocket"
)

// Server wraps the HTTP listener and the sessions it serves.
type Server struct {
	httpServer *http.Server
	manager    *websocket.ClientManager
}

// NewServer builds the router. The websocket handler is mounted at cfg.Path
// and at the root.
func NewServer(cfg *config.ServerConfig, wsHandler http.HandlerFunc, manager *websocket.ClientManager) *Server {
	s := &Server{manager: manager}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/", wsHandler)
	if cfg.Path != "" && cfg.Path != "/" {
		r.Get(cfg.Path, wsHandler)
	}

	s.httpServer = &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.Port),
		Handler:     r,
		// No WriteTimeout: it would also cut hijacked websocket connections.
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type healthResponse struct {
	Status      string `json:"status"`
	ServerID    string `json:"serverId"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		ServerID:    s.manager.ServerID(),
		Connections: s.manager.Count(),
		Users:       s.manager.UserCount(),
	})
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("relay listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every session so each one
// deregisters, waits for in-flight work and finally closes the publisher.
func (s *Server) Shutdown(ctx context.Context, publisher broker.Publisher) {
	log.Info().Msg("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	s.manager.CloseAllConnections("server shutdown")
	if err := s.manager.WaitForCompletion(ctx); err != nil {
		log.Warn().Err(err).Msg("timed out waiting for sessions to finish")
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("closing event publisher")
		}
	}
	log.Info().Msg("server stopped")
}

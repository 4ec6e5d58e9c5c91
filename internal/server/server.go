// Package server wires the chat transport to its collaborators.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
)

// Deps are the collaborators the transport consumes.
type Deps struct {
	Verifier  auth.Verifier
	Directory chat.Directory
	Messages  chat.MessageStore
	Sessions  chat.SessionStore
	Logger    *slog.Logger
}

// Server owns the hub and serves the chat WebSocket endpoints.
type Server struct {
	cfg       Config
	hub       *Hub
	handshake *auth.Handshake
	directory chat.Directory
	messages  chat.MessageStore
	origins   *originPolicy
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// New creates a Server from a sanitized copy of cfg.
func New(cfg Config, deps Deps) *Server {
	cfg = cfg.sanitize()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		hub:       NewHub(logger),
		handshake: auth.NewHandshake(deps.Verifier, deps.Sessions, deps.Directory, cfg.AccessTokenTTL, logger),
		directory: deps.Directory,
		messages:  deps.Messages,
		origins:   newOriginPolicy(cfg.AllowedOrigins, logger.With(slog.String("component", "http"))),
		logger:    logger.With(slog.String("component", "http")),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub returns the server's room registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// serveConn runs one connection's session on the calling goroutine.
func (s *Server) serveConn(conn *websocket.Conn, r *http.Request, t target) {
	client := NewClient(conn, clientConfigFrom(s.cfg), r.RemoteAddr,
		s.logger.With(slog.String("component", "session")))

	if !s.hub.track(client) {
		client.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.hub.untrack(client)

	ctx, cancel := context.WithCancel(s.hub.Context())
	defer cancel()

	query := r.URL.Query()
	creds := auth.Credentials{
		AccessToken:  query.Get("access_token"),
		RefreshToken: query.Get("refresh_token"),
	}
	newChatSession(ctx, s, client, creds, t).run()
}

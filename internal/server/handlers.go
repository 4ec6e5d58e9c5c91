// Package server exposes HTTP handlers, including WebSocket upgrades and
// health checks.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

// ChatHandler upgrades requests on /ws/chats/{chatID} into chat sessions.
func (s *Server) ChatHandler(w http.ResponseWriter, r *http.Request) {
	s.handleWebSocket(w, r, targetChat, "chatID")
}

// GroupHandler upgrades requests on /ws/groups/{groupID} into sessions on
// the group's chat.
func (s *Server) GroupHandler(w http.ResponseWriter, r *http.Request) {
	s.handleWebSocket(w, r, targetGroup, "groupID")
}

// handleWebSocket validates the method and path, upgrades the connection and
// blocks for the lifetime of the session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, kind targetKind, param string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	id, err := strconv.ParseInt(r.PathValue(param), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	s.serveConn(conn, r, target{kind: kind, id: id})
}

// HealthHandler reports liveness together with connection counts.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running (rooms: %d, connections: %d)",
		s.hub.RoomCount(), s.hub.ConnectionCount())
}

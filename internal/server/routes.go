// Package server wires HTTP handlers into a ServeMux via routing helpers.
package server

import "net/http"

// SetupRoutes returns a ServeMux with the health check and both chat
// WebSocket endpoints.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/ws/chats/{chatID}", s.ChatHandler)
	mux.HandleFunc("/ws/groups/{groupID}", s.GroupHandler)
	return mux
}

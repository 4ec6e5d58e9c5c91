// Package server implements the real-time chat transport: the WebSocket
// upgrade endpoints, per-connection sessions, and the in-memory room
// registry that fans persisted messages out to live connections.
//
// The implementation is organized into specialized files for configuration,
// the wire protocol, clients, the hub, the per-connection session loop and
// the HTTP surface.
package server

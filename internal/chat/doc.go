// Package chat defines the domain records shared by the chat transport and
// the collaborator ports it consumes for identity, membership, credentials
// sessions, and message persistence.
package chat

package chat

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by collaborators when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable is returned by collaborators that cannot reach their backing store.
	ErrUnavailable = errors.New("collaborator unavailable")
)

// Directory resolves identities and memberships.
//
// Membership removal must be visible to the next IsRoomMember or IsGroupMember
// call; the transport checks membership once per connection.
type Directory interface {
	FindUserByName(ctx context.Context, username string) (User, error)
	RoomExists(ctx context.Context, roomID int64) (bool, error)
	IsRoomMember(ctx context.Context, roomID, userID int64) (bool, error)
	IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error)
	ResolveGroupChatRoom(ctx context.Context, groupID int64) (Room, error)
}

// MessageStore persists and queries room messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, senderID int64, text string) (Message, error)
	// ListMessages returns the full history of a room in ascending timestamp order.
	ListMessages(ctx context.Context, roomID int64) ([]Message, error)
	// MarkRead flags every message in roomID not sent by excludingSender as read.
	MarkRead(ctx context.Context, roomID, excludingSender int64) (int64, error)
}

// SessionStore looks up refresh sessions created at login.
type SessionStore interface {
	FindActiveSession(ctx context.Context, refreshToken string) (RefreshSession, error)
}

package chat

import "time"

// User is a registered account resolved from a credential subject.
type User struct {
	ID       int64
	Username string
	Email    string
}

// RoomKind distinguishes private chats from group-backed chats.
type RoomKind string

// Room kinds.
const (
	RoomPrivate RoomKind = "private"
	RoomGroup   RoomKind = "group"
)

// Room is a chat entity that owns a message history.
type Room struct {
	ID    int64
	Title string
	Kind  RoomKind
}

// Group is a set of users paired with exactly one chat room.
type Group struct {
	ID        int64
	Title     string
	CreatorID int64
	RoomID    int64
}

// RefreshSession is the server-side record backing a refresh credential.
type RefreshSession struct {
	ID           int64
	UserID       int64
	RefreshToken string
	UserAgent    string
	IPAddress    string
	Active       bool
	CreatedAt    time.Time
}

// Message is a persisted chat message. Only IsRead changes after creation.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"chat_id"`
	SenderID  int64     `json:"sender_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsRead    bool      `json:"is_read"`
}

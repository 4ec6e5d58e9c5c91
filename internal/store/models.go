package store

import "time"

// User is the persisted account row.
type User struct {
	ID        int64  `gorm:"primaryKey"`
	Username  string `gorm:"size:50;uniqueIndex;not null"`
	Email     string `gorm:"size:255"`
	CreatedAt time.Time
}

// TableName returns the table name for User.
func (User) TableName() string { return "users" }

// Session is a refresh session created at login.
type Session struct {
	ID           int64  `gorm:"primaryKey"`
	UserID       int64  `gorm:"index;not null"`
	RefreshToken string `gorm:"uniqueIndex;not null"`
	UserAgent    string
	IPAddress    string
	IsActive     bool `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

// TableName returns the table name for Session.
func (Session) TableName() string { return "sessions" }

// Chat is a private or group-backed room.
type Chat struct {
	ID        int64  `gorm:"primaryKey"`
	Title     string `gorm:"size:100"`
	ChatsType string `gorm:"size:16;not null"`
	CreatedAt time.Time
}

// TableName returns the table name for Chat.
func (Chat) TableName() string { return "chats" }

// ChatUser is a room membership.
type ChatUser struct {
	ChatID int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID int64 `gorm:"primaryKey;autoIncrement:false"`
}

// TableName returns the table name for ChatUser.
func (ChatUser) TableName() string { return "chat_users" }

// Group pairs a set of users with one chat.
type Group struct {
	ID        int64  `gorm:"primaryKey"`
	Title     string `gorm:"size:100;not null"`
	CreatorID int64  `gorm:"not null"`
	ChatID    int64  `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// TableName returns the table name for Group.
func (Group) TableName() string { return "groups" }

// GroupUser is a group membership.
type GroupUser struct {
	GroupID int64 `gorm:"primaryKey;autoIncrement:false"`
	UserID  int64 `gorm:"primaryKey;autoIncrement:false"`
}

// TableName returns the table name for GroupUser.
func (GroupUser) TableName() string { return "group_users" }

// Message is a persisted chat message.
type Message struct {
	ID        int64     `gorm:"primaryKey"`
	ChatID    int64     `gorm:"index:idx_messages_chat_ts,priority:1;not null"`
	SenderID  int64     `gorm:"not null"`
	Text      string    `gorm:"not null"`
	Timestamp time.Time `gorm:"index:idx_messages_chat_ts,priority:2;not null"`
	IsRead    bool      `gorm:"not null;default:false"`
}

// TableName returns the table name for Message.
func (Message) TableName() string { return "messages" }

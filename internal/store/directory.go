package store

import (
	"context"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// FindUserByName resolves a username.
func (s *Store) FindUserByName(ctx context.Context, username string) (chat.User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		return chat.User{}, classify("find user", err)
	}
	return chat.User{ID: u.ID, Username: u.Username, Email: u.Email}, nil
}

// RoomExists reports whether a chat with roomID exists.
func (s *Store) RoomExists(ctx context.Context, roomID int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return false, classify("room exists", err)
	}
	return count > 0, nil
}

// IsRoomMember reports whether userID participates in roomID.
func (s *Store) IsRoomMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ChatUser{}).
		Where("chat_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		return false, classify("room membership", err)
	}
	return count > 0, nil
}

// IsGroupMember reports whether userID belongs to groupID.
func (s *Store) IsGroupMember(ctx context.Context, groupID, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&GroupUser{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, classify("group membership", err)
	}
	return count > 0, nil
}

// ResolveGroupChatRoom returns the chat paired with groupID.
func (s *Store) ResolveGroupChatRoom(ctx context.Context, groupID int64) (chat.Room, error) {
	var g Group
	if err := s.db.WithContext(ctx).First(&g, "id = ?", groupID).Error; err != nil {
		return chat.Room{}, classify("find group", err)
	}
	var c Chat
	if err := s.db.WithContext(ctx).First(&c, "id = ?", g.ChatID).Error; err != nil {
		return chat.Room{}, classify("find group chat", err)
	}
	return toRoom(c), nil
}

func toRoom(c Chat) chat.Room {
	return chat.Room{ID: c.ID, Title: c.Title, Kind: chat.RoomKind(c.ChatsType)}
}

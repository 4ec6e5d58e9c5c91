package store

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, username, email string) (chat.User, error) {
	u := User{Username: username, Email: email}
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return chat.User{}, classify("create user", err)
	}
	return chat.User{ID: u.ID, Username: u.Username, Email: u.Email}, nil
}

// CreateRoom inserts a private chat with the given participants.
func (s *Store) CreateRoom(ctx context.Context, title string, memberIDs ...int64) (chat.Room, error) {
	var c Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c = Chat{Title: title, ChatsType: string(chat.RoomPrivate)}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		return addChatUsers(tx, c.ID, memberIDs)
	})
	if err != nil {
		return chat.Room{}, classify("create room", err)
	}
	return toRoom(c), nil
}

// CreateGroup inserts a group, its paired chat, and the memberships of the
// creator and every listed user.
func (s *Store) CreateGroup(ctx context.Context, title string, creatorID int64, memberIDs ...int64) (chat.Group, error) {
	var g Group
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c := Chat{Title: title, ChatsType: string(chat.RoomGroup)}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		g = Group{Title: title, CreatorID: creatorID, ChatID: c.ID}
		if err := tx.Create(&g).Error; err != nil {
			return err
		}
		members := append([]int64{creatorID}, memberIDs...)
		rows := make([]GroupUser, 0, len(members))
		for _, id := range members {
			rows = append(rows, GroupUser{GroupID: g.ID, UserID: id})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}
		return addChatUsers(tx, c.ID, members)
	})
	if err != nil {
		return chat.Group{}, classify("create group", err)
	}
	return chat.Group{ID: g.ID, Title: g.Title, CreatorID: g.CreatorID, RoomID: g.ChatID}, nil
}

// RemoveGroupMember drops userID from groupID and from the group's chat.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g Group
		if err := tx.First(&g, "id = ?", groupID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&GroupUser{}, "group_id = ? AND user_id = ?", groupID, userID).Error; err != nil {
			return err
		}
		return tx.Delete(&ChatUser{}, "chat_id = ? AND user_id = ?", g.ChatID, userID).Error
	})
	return classify("remove group member", err)
}

// CreateSession records an active refresh session for userID.
func (s *Store) CreateSession(ctx context.Context, userID int64, refreshToken, userAgent, ip string) (chat.RefreshSession, error) {
	row := Session{
		UserID:       userID,
		RefreshToken: refreshToken,
		UserAgent:    userAgent,
		IPAddress:    ip,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return chat.RefreshSession{}, classify("create session", err)
	}
	return chat.RefreshSession{
		ID:           row.ID,
		UserID:       row.UserID,
		RefreshToken: row.RefreshToken,
		UserAgent:    row.UserAgent,
		IPAddress:    row.IPAddress,
		Active:       row.IsActive,
		CreatedAt:    row.CreatedAt,
	}, nil
}

func addChatUsers(tx *gorm.DB, chatID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]ChatUser, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, ChatUser{ChatID: chatID, UserID: id})
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

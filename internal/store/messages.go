package store

import (
	"context"
	"log/slog"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// CreateMessage persists a message and returns it with its assigned id and
// timestamp.
func (s *Store) CreateMessage(ctx context.Context, roomID, senderID int64, text string) (chat.Message, error) {
	m := Message{
		ChatID:    roomID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return chat.Message{}, classify("create message", err)
	}
	return toMessage(m), nil
}

// ListMessages returns every message of roomID ordered by timestamp, ties
// broken by id.
func (s *Store) ListMessages(ctx context.Context, roomID int64) ([]chat.Message, error) {
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", roomID).
		Order("timestamp ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify("list messages", err)
	}
	out := make([]chat.Message, 0, len(rows))
	for _, m := range rows {
		out = append(out, toMessage(m))
	}
	return out, nil
}

// MarkRead sets is_read on every message in roomID not sent by
// excludingSender and returns the number of rows touched.
func (s *Store) MarkRead(ctx context.Context, roomID, excludingSender int64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("chat_id = ? AND sender_id <> ? AND is_read = ?", roomID, excludingSender, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, classify("mark read", res.Error)
	}
	s.logger.Debug("messages marked read",
		slog.Int64("room_id", roomID),
		slog.Int64("reader_id", excludingSender),
		slog.Int64("count", res.RowsAffected))
	return res.RowsAffected, nil
}

func toMessage(m Message) chat.Message {
	return chat.Message{
		ID:        m.ID,
		RoomID:    m.ChatID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		Timestamp: m.Timestamp.UTC(),
		IsRead:    m.IsRead,
	}
}

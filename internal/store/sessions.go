package store

import (
	"context"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// FindActiveSession returns the active session holding refreshToken.
func (s *Store) FindActiveSession(ctx context.Context, refreshToken string) (chat.RefreshSession, error) {
	var row Session
	err := s.db.WithContext(ctx).
		Where("refresh_token = ? AND is_active = ?", refreshToken, true).
		First(&row).Error
	if err != nil {
		return chat.RefreshSession{}, classify("find session", err)
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

// DeactivateSession marks the session holding refreshToken inactive.
func (s *Store) DeactivateSession(ctx context.Context, refreshToken string) error {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("refresh_token = ?", refreshToken).
		Update("is_active", false)
	if res.Error != nil {
		return classify("deactivate session", res.Error)
	}
	if res.RowsAffected == 0 {
		return classify("deactivate session", chat.ErrNotFound)
	}
	return nil
}

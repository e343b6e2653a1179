// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides aggregate queries: the per-user message
// count behind rate limiting and the chat stats used for conditional
// responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

// CountUserMessagesSince counts user-role messages authored by userID after
// the given instant, joined through chat ownership. Messages carry no author
// column; the chat's owner wrote every user-role row in it.
func CountUserMessagesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Joins("INNER JOIN chats ON chats.id = messages.chat_id").
		Where("chats.user_id = ? AND messages.created_at >= ? AND messages.role = ?",
			userID, since, domain.RoleUser).
		Count(&total).Error
	return total, err
}

// ChatsStats returns the number of chats a user owns and the greatest
// CreatedAt among them (nil when the user has none). Cheap enough to run
// before every history page for weak-ETag comparison.
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Avoid MAX() -> TEXT in SQLite.
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

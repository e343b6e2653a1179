// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the stream ledger: append-only StreamID
// rows recording every generation attempt per chat.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

// CreateStreamID appends a ledger entry for a new generation attempt.
func CreateStreamID(ctx context.Context, db *gorm.DB, streamID, chatID string) error {
	return db.WithContext(ctx).Create(&domain.StreamID{
		ID:        streamID,
		ChatID:    chatID,
		CreatedAt: time.Now().UTC(),
	}).Error
}

// ListStreamIDs returns the ledger for a chat ordered by CreatedAt ascending,
// so the last element is the current stream candidate.
func ListStreamIDs(ctx context.Context, db *gorm.DB, chatID string) ([]domain.StreamID, error) {
	var out []domain.StreamID
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

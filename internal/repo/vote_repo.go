// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Vote model.
//
// A vote is keyed by (chat_id, message_id); voting again replaces the
// recorded direction rather than adding a row. The read-then-write runs in a
// transaction so two concurrent votes on the same message cannot both insert.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

// UpsertVote records isUpvoted for (chatID, messageID), updating the existing
// row if one exists and inserting otherwise.
func UpsertVote(ctx context.Context, db *gorm.DB, chatID, messageID string, isUpvoted bool) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Vote
		err := tx.Where("chat_id = ? AND message_id = ?", chatID, messageID).
			First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&domain.Vote{}).
				Where("chat_id = ? AND message_id = ?", chatID, messageID).
				Update("is_upvoted", isUpvoted).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&domain.Vote{
				ChatID:    chatID,
				MessageID: messageID,
				IsUpvoted: isUpvoted,
			}).Error
		default:
			return err
		}
	})
}

// ListVotes returns all votes recorded for a chat.
func ListVotes(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Vote, error) {
	var out []domain.Vote
	err := db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&out).Error
	return out, err
}

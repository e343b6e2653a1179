// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model. Messages are append-only; the only removal path is the bulk rewind
// used when a user edits or regenerates a turn.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

// CreateMessages inserts a batch of message rows in one statement.
// IDs and timestamps are expected to be set by the caller; the service
// layer synthesizes them when the client omits them.
func CreateMessages(ctx context.Context, db *gorm.DB, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&msgs).Error
}

// ListMessages returns all messages of a chat ordered deterministically
// (CreatedAt ASC, ID ASC), oldest first, so the conversation can be
// reconstructed in append order.
func ListMessages(ctx context.Context, db *gorm.DB, chatID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetMessage fetches a message by id. Returns ErrNotFound when missing.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestMessageByRole returns the newest message of a chat with the given
// role, or ErrNotFound when none exists. Used by the resumption coordinator
// to decide whether the newest recorded stream has already been flushed.
func LatestMessageByRole(ctx context.Context, db *gorm.DB, chatID, role string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ? AND role = ?", chatID, role).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessagesAfter removes every message of chatID with CreatedAt at or
// after ts, deleting the votes that reference the doomed ids first so no
// orphaned vote rows survive. Runs in one transaction. Returns the number of
// messages deleted.
func DeleteMessagesAfter(ctx context.Context, db *gorm.DB, chatID string, ts time.Time) (int64, error) {
	var removed int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.Message{}).
			Where("chat_id = ? AND created_at >= ?", chatID, ts).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("chat_id = ? AND message_id IN ?", chatID, ids).
			Delete(&domain.Vote{}).Error; err != nil {
			return err
		}
		res := tx.Where("chat_id = ? AND id IN ?", chatID, ids).
			Delete(&domain.Message{})
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}

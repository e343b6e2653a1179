// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no degradation policy here, only
// CRUD persistence and query composition. The services package decides which
// failures are swallowed and which propagate.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicateID is returned by CreateChat when a row with the same id
// already exists.
var ErrDuplicateID = errors.New("id already exists")

// CreateChat inserts a new Chat row with the caller-supplied id. CreatedAt is
// set to UTC. A primary-key collision is reported as ErrDuplicateID so the
// service layer can surface a conflict instead of overwriting.
func CreateChat(ctx context.Context, db *gorm.DB, id, userID, title, visibility string) (*domain.Chat, error) {
	c := &domain.Chat{
		ID:         id,
		UserID:     userID,
		Title:      title,
		Visibility: visibility,
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateID
		}
		return nil, err
	}
	return c, nil
}

// GetChat fetches a single chat by id, regardless of owner. Ownership and
// visibility checks belong to the caller. Returns ErrNotFound when missing.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ChatPage is one cursor-resolved slice of a user's history, newest first.
type ChatPage struct {
	Chats   []domain.Chat `json:"chats"`
	HasMore bool          `json:"has_more"`
}

// ListChatsByUser returns up to limit chats owned by userID, ordered by
// CreatedAt descending. Cursors are opaque chat ids: the anchor's CreatedAt
// is resolved first, then rows strictly after (startingAfter) or strictly
// before (endingBefore) the anchor are fetched. limit+1 rows are requested
// so HasMore is derived without a count query.
//
// An unresolvable anchor id returns ErrNotFound: a broken cursor means the
// client and server have desynced, which is not the same as an empty page.
func ListChatsByUser(ctx context.Context, db *gorm.DB, userID string, limit int, startingAfter, endingBefore string) (*ChatPage, error) {
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(limit + 1)

	switch {
	case startingAfter != "":
		anchor, err := GetChat(ctx, db, startingAfter)
		if err != nil {
			return nil, err
		}
		q = q.Where("created_at > ?", anchor.CreatedAt)
	case endingBefore != "":
		anchor, err := GetChat(ctx, db, endingBefore)
		if err != nil {
			return nil, err
		}
		q = q.Where("created_at < ?", anchor.CreatedAt)
	}

	var rows []domain.Chat
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return &ChatPage{Chats: rows, HasMore: hasMore}, nil
}

// DeleteChat removes a chat and everything it owns: votes, messages, and
// stream ledger entries, in that order, then the chat row itself. The
// sequence runs in a single transaction so a crash cannot leave a chat
// stripped of its messages but still listed. Returns the deleted chat, or
// ErrNotFound if no row matched.
func DeleteChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var deleted domain.Chat
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&deleted).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&domain.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&domain.StreamID{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&domain.Chat{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// UpdateChatVisibility sets the visibility of a chat. Returns ErrNotFound
// when no row was affected.
func UpdateChatVisibility(ctx context.Context, db *gorm.DB, id, visibility string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Update("visibility", visibility)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateChatLastContext stores the opaque usage snapshot from the most recent
// generation. Advisory only; callers treat failures as log-and-continue.
func UpdateChatLastContext(ctx context.Context, db *gorm.DB, id string, lastContext datatypes.JSON) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		Update("last_context", lastContext).Error
}

// isDuplicateKey detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// SQLite: "UNIQUE constraint failed"; Postgres: "duplicate key value
	// violates unique constraint".
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

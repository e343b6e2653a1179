// Package domain defines the persistence models for chats, messages, votes,
// and stream ledger entries. These types are mapped with GORM and form the
// core data layer of the conversation backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Visibility values accepted for Chat.Visibility.
const (
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// Message roles. Assistant output is persisted by the stream coordinator;
// user and system messages arrive through the message API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Chat represents a conversation owned by a user. The ID is supplied by the
// caller (the web client mints it before the first turn), not generated here.
//
// Fields:
//   - ID: caller-supplied primary key (char(36)).
//   - UserID: identifier of the chat owner; indexed for history queries.
//   - Title: human-readable chat title.
//   - Visibility: "private" (owner only) or "public" (readable by anyone).
//   - LastContext: opaque usage snapshot recorded after a generation;
//     advisory telemetry only, may be null.
//   - CreatedAt: insertion timestamp, basis for history ordering and cursors.
type Chat struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_chats"`
	Title       string         `json:"title"       gorm:"type:varchar(255);not null;default:'New chat'"`
	Visibility  string         `json:"visibility"  gorm:"type:varchar(16);not null;default:'private';check:visibility IN ('private','public')"`
	LastContext datatypes.JSON `json:"last_context,omitempty" gorm:"type:json"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is a single utterance within a chat. Messages are append-only:
// rows are never updated, and removal happens only through the bulk
// "delete after timestamp" rewind used by the edit/regenerate flow.
//
// Parts holds the ordered content segments (text, tool calls, attachments)
// as an opaque JSON array; this layer never inspects segment internals.
type Message struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string         `json:"chat_id"    gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Role      string         `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant','system')"`
	Parts     datatypes.JSON `json:"parts"      gorm:"type:json;not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_chat_msgs,priority:2"`

	// Chat is the parent conversation. Messages are cascade-deleted
	// if their chat is removed.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Vote records whether a message was up- or downvoted within its chat.
// At most one row exists per (chat_id, message_id); repeated votes update
// the existing row rather than inserting a second one.
type Vote struct {
	ChatID    string `json:"chat_id"    gorm:"type:char(36);primaryKey"`
	MessageID string `json:"message_id" gorm:"type:char(36);primaryKey"`
	IsUpvoted bool   `json:"is_upvoted" gorm:"not null"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// StreamID is an append-only ledger entry written when a new assistant
// generation begins. Only the identifier is durable; the token stream it
// names lives in process memory (or Redis) and may be gone by the time a
// client reconnects. The newest entry per chat determines the "current"
// stream for resumption.
type StreamID struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	ChatID    string    `json:"chat_id"    gorm:"type:char(36);not null;index:idx_chat_streams"`
	CreatedAt time.Time `json:"created_at"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for StreamID.
func (StreamID) TableName() string { return "streams" }

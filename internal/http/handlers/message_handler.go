// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - GET    /chats/{id}/messages          (list, oldest first)
//   - POST   /chats/{id}/messages          (append a batch, quota-gated)
//   - DELETE /chats/{id}/messages?after=…  (rewind for edit/regenerate)
//
// Handlers are transport-thin: validate and normalize inputs, delegate to
// MessageService, and translate results to HTTP.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// append exists for (user, chat, key), the handler returns the recorded
// messages and sets `Idempotency-Replayed: true` instead of appending again.
// Multiple tabs and client retries make duplicate appends a routine event,
// not an edge case.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/http/middleware"
	"github.com/loomchat/go-convo-backend/internal/repo"
)

//
// DTOs
//

// PostMessageItem is one message in an append batch. Parts is the ordered
// segment array (text, tool calls, attachments) and is stored opaquely.
type PostMessageItem struct {
	ID    string         `json:"id"`
	Role  string         `json:"role"  binding:"required"`
	Parts datatypes.JSON `json:"parts" binding:"required"`
}

// PostMessagesRequest is the JSON payload for appending messages.
type PostMessagesRequest struct {
	Messages []PostMessageItem `json:"messages" binding:"required,min=1"`
}

// MessagesResponse is the JSON envelope for a message batch.
type MessagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// DeleteMessagesResponse reports how many messages a rewind removed.
type DeleteMessagesResponse struct {
	Deleted int64 `json:"deleted"`
}

//
// Handlers
//

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns the chat's messages oldest first. Degrades to an empty list when storage is unreachable.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       id         path    string  true "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.MessagesResponse
// @Failure     403  {object} handlers.ErrorResponse "Not allowed to read this chat"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	// A private chat read by a non-owner is forbidden; an absent chat is
	// indistinguishable from a degraded store and yields an empty list.
	ch, err := h.chatSvc.Get(ctx, chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch != nil && !canRead(ch, userID(c)) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}

	msgs := h.msgSvc.List(ctx, chatID)
	ok(c, http.StatusOK, MessagesResponse{Messages: msgs})
}

// PostMessages godoc
// @ID          postMessages
// @Summary     Append messages to a chat
// @Description Appends a batch of messages. User-role messages count against the rolling quota. Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true  "User ID (gateway header)"
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessagesRequest true "Message batch"
//
// @Success     200  {object} handlers.MessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     429  {object} handlers.ErrorResponse "Quota exhausted"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")
	currentUser := userID(c)

	var req PostMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "messages required")
		return
	}

	batch := make([]domain.Message, 0, len(req.Messages))
	hasUserRole := false
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleUser:
			hasUserRole = true
		case domain.RoleAssistant, domain.RoleSystem:
		default:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role must be user, assistant, or system")
			return
		}
		if len(m.Parts) == 0 {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "parts required")
			return
		}
		batch = append(batch, domain.Message{ID: m.ID, Role: m.Role, Parts: m.Parts})
	}

	// Only the owner may append; an absent chat (or degraded store) is
	// tolerated so the turn is not lost to an outage.
	ch, err := h.chatSvc.Get(ctx, chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch != nil && ch.UserID != currentUser {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}

	// Idempotency (replay path) – read validated key if present. The replay
	// lookup runs before the quota gate: a retry of an already-completed
	// append must not be turned away as new traffic.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if prev, okPrev := h.replayMessages(c, currentUser, chatID, idemKey); okPrev {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, MessagesResponse{Messages: prev})
			return
		}
	}

	if hasUserRole {
		if err := h.msgSvc.CheckQuota(ctx, currentUser); err != nil {
			fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded,
				"message quota exceeded, try again later")
			return
		}
	}

	saved := h.msgSvc.Append(ctx, chatID, batch)

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db, errDB := h.store.Acquire(); errDB == nil {
			ids := make([]string, 0, len(saved))
			for _, m := range saved {
				ids = append(ids, m.ID)
			}
			_, _ = repo.CreateIdempotency(ctx, db, currentUser, chatID, idemKey,
				strings.Join(ids, ","), http.StatusOK, h.idemTTL)
		}
	}

	ok(c, http.StatusOK, MessagesResponse{Messages: saved})
}

// replayMessages looks up a stored idempotency record and re-fetches the
// messages it names. Any miss (no record, expired, degraded store, message
// gone) falls back to normal processing.
func (h *Handlers) replayMessages(c *gin.Context, uid, chatID, key string) ([]domain.Message, bool) {
	ctx := c.Request.Context()
	db, err := h.store.Acquire()
	if err != nil {
		return nil, false
	}
	rec, err := repo.GetIdempotency(ctx, db, uid, chatID, key, time.Now().UTC())
	if err != nil || rec == nil {
		return nil, false
	}
	var out []domain.Message
	for _, id := range strings.Split(rec.MessageIDs, ",") {
		if id == "" {
			continue
		}
		m, err := h.msgSvc.Get(ctx, id)
		if err != nil {
			return nil, false
		}
		out = append(out, *m)
	}
	return out, len(out) > 0
}

// DeleteMessagesAfter godoc
// @ID          deleteMessagesAfter
// @Summary     Rewind a chat to a point in time
// @Description Deletes every message created at or after the given timestamp, votes first. Used by the edit/regenerate flow to discard everything after an edited turn. Owner only.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       id         path    string  true "Chat ID (UUID)"       format(uuid)
// @Param       after      query   string  true "RFC 3339 timestamp"   format(date-time)
//
// @Success     200  {object} handlers.DeleteMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [delete]
func (h *Handlers) DeleteMessagesAfter(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	after := c.Query("after")
	ts, err := time.Parse(time.RFC3339, after)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "after must be an RFC 3339 timestamp")
		return
	}

	ch, err := h.chatSvc.Get(ctx, chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	}
	if ch.UserID != userID(c) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}

	n, err := h.msgSvc.DeleteAfter(ctx, chatID, ts)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeDeleteFailed)
		return
	}
	ok(c, http.StatusOK, DeleteMessagesResponse{Deleted: n})
}

// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST   /chats                 (create, caller-supplied id)
//   - GET    /history               (cursor-paginated listing, ETag support)
//   - GET    /chats/{id}            (fetch, visibility-gated)
//   - DELETE /chats/{id}            (cascade delete)
//   - PUT    /chats/{id}/visibility (toggle private/public)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses (including conditional
// responses). Ownership and visibility gating happens here because the
// service layer is identity-agnostic.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/http/middleware"
	"github.com/loomchat/go-convo-backend/internal/repo"
	"github.com/loomchat/go-convo-backend/internal/services"
	"github.com/loomchat/go-convo-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// Create inserts a chat with the caller-supplied id.
	Create(ctx context.Context, id, userID, titleHint, visibility string) (*domain.Chat, error)
	// Get fetches a chat; (nil, nil) when absent or the store is degraded.
	Get(ctx context.Context, id string) (*domain.Chat, error)
	// History returns one cursor-resolved page of the user's chats.
	History(ctx context.Context, userID string, limit int, startingAfter, endingBefore string) (*repo.ChatPage, error)
	// Stats returns the chat count and newest creation time for weak ETags.
	Stats(ctx context.Context, userID string) (int64, *time.Time)
	// Delete removes a chat and everything it owns.
	Delete(ctx context.Context, id string) (*domain.Chat, error)
	// SetVisibility changes who may read the chat.
	SetVisibility(ctx context.Context, id, visibility string) error
}

// MessageService defines message persistence and quota operations.
type MessageService interface {
	// Append persists a batch; ids/timestamps are synthesized when missing.
	Append(ctx context.Context, chatID string, msgs []domain.Message) []domain.Message
	// List returns the chat's messages oldest-first; [] when degraded.
	List(ctx context.Context, chatID string) []domain.Message
	// Get fetches a message by id.
	Get(ctx context.Context, id string) (*domain.Message, error)
	// DeleteAfter removes messages created at or after ts, votes first.
	DeleteAfter(ctx context.Context, chatID string, ts time.Time) (int64, error)
	// CheckQuota reports whether userID may send another message.
	CheckQuota(ctx context.Context, userID string) error
}

// VoteService defines per-message feedback operations.
type VoteService interface {
	// Upsert records a vote direction; silently skipped when degraded.
	Upsert(ctx context.Context, chatID, messageID string, isUpvoted bool)
	// ListByChat returns the chat's votes; [] when degraded.
	ListByChat(ctx context.Context, chatID string) []domain.Vote
}

// StreamService defines the resumption protocol surface used by handlers.
type StreamService interface {
	// Lookup decides what a reattaching client should see.
	Lookup(ctx context.Context, chatID string) (services.Resumption, error)
	// Subscribe attaches to the live stream for SSE replay + tail.
	Subscribe(ctx context.Context, chatID, streamID string) (backlog []string, ch <-chan string, cancel func(), err error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for chats, messages, votes, and stream
// resumption. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	chatSvc   ChatService
	msgSvc    MessageService
	voteSvc   VoteService
	streamSvc StreamService

	// store backs the idempotency record reads/writes; best-effort only.
	store   *repo.Manager
	idemTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(chatSvc ChatService, msgSvc MessageService, voteSvc VoteService, streamSvc StreamService, store *repo.Manager, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{
		chatSvc:   chatSvc,
		msgSvc:    msgSvc,
		voteSvc:   voteSvc,
		streamSvc: streamSvc,
		store:     store,
		idemTTL:   idemTTL,
	}
}

// userID extracts the authenticated user id set by middleware.RequireIdentity.
func userID(c *gin.Context) string { return middleware.UserID(c) }

// canRead reports whether uid may read the chat: owners always, anyone when
// the chat is public.
func canRead(ch *domain.Chat, uid string) bool {
	return ch.UserID == uid || ch.Visibility == domain.VisibilityPublic
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for creating a chat. The id is
// minted by the web client before the first turn so the URL is stable even
// when the insert happens in degraded mode.
type CreateChatRequest struct {
	// ID is the caller-supplied chat identifier (UUID).
	ID string `json:"id" binding:"required"`
	// Title seeds the derived chat title; typically the first prompt.
	Title string `json:"title"`
	// Visibility is "private" (default) or "public".
	Visibility string `json:"visibility"`
}

// UpdateVisibilityRequest is the JSON payload for changing chat visibility.
type UpdateVisibilityRequest struct {
	Visibility string `json:"visibility" binding:"required"`
}

// HistoryResponse wraps one cursor page of chats.
type HistoryResponse struct {
	Chats   []domain.Chat `json:"chats"`
	HasMore bool          `json:"has_more"`
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Create a new chat
// @Description Creates a chat with a client-minted id and returns the chat resource.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (gateway header)"  example(user123)
// @Param       body       body    handlers.CreateChatRequest  true  "Create chat payload"
//
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Chat id already exists"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if _, err := uuid.Parse(req.ID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	ch, err := h.chatSvc.Create(c.Request.Context(), req.ID, userID(c), strings.TrimSpace(req.Title), req.Visibility)
	switch {
	case errors.Is(err, services.ErrChatExists):
		fail(c, http.StatusConflict, ErrCodeConflict, "chat id already exists")
		return
	case errors.Is(err, services.ErrInvalidVisibility):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case err != nil:
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, ch)
}

// History godoc
// @ID          history
// @Summary     List the user's chats (cursor-paginated)
// @Description Returns a page of the user's chats, newest first. Cursors are opaque chat ids; at most one of starting_after / ending_before may be supplied. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
//
// @Param       X-User-ID       header  string  true  "User ID (gateway header)"
// @Param       If-None-Match   header  string  false "Return 304 if ETag matches"
// @Param       limit           query   int     false "Page size"  minimum(1) maximum(100) default(20)
// @Param       starting_after  query   string  false "Return chats older than this chat id"
// @Param       ending_before   query   string  false "Return chats newer than this chat id"
//
// @Success     200  {object} handlers.HistoryResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Unknown cursor anchor"
// @Router      /history [get]
func (h *Handlers) History(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	const (
		defaultLimit = 20
		maxLimit     = 100
	)
	limit := utils.AtoiDefault(c.Query("limit"), defaultLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	startingAfter := c.Query("starting_after")
	endingBefore := c.Query("ending_before")
	if startingAfter != "" && endingBefore != "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"only one of starting_after or ending_before can be provided")
		return
	}

	// ETag pre-check (best effort).
	count, maxTS := h.chatSvc.Stats(ctx, uid)
	if count > 0 {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"chats:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	page, err := h.chatSvc.History(ctx, uid, limit, startingAfter, endingBefore)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, HistoryResponse{Chats: page.Chats, HasMore: page.HasMore})
}

// GetChat godoc
// @ID          getChat
// @Summary     Fetch a chat
// @Description Returns the chat when the caller owns it or it is public.
// @Tags        Chats
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       id         path    string  true "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Chat
// @Failure     403  {object} handlers.ErrorResponse "Not the owner of a private chat"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID := c.Param("id")

	ch, err := h.chatSvc.Get(c.Request.Context(), chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	}
	if !canRead(ch, userID(c)) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}
	ok(c, http.StatusOK, ch)
}

// DeleteChat godoc
// @ID          deleteChat
// @Summary     Delete a chat
// @Description Removes the chat and all its messages, votes, and stream ledger entries. Owner only.
// @Tags        Chats
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       id         path    string  true "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Chat "The deleted chat"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Delete failed"
// @Router      /chats/{id} [delete]
func (h *Handlers) DeleteChat(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

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

	deleted, err := h.chatSvc.Delete(ctx, chatID)
	switch {
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	case err != nil:
		failDomain(c, err, http.StatusInternalServerError, ErrCodeDeleteFailed)
		return
	}
	ok(c, http.StatusOK, deleted)
}

// UpdateVisibility godoc
// @ID          updateVisibility
// @Summary     Change chat visibility
// @Description Switches a chat between private and public. Owner only.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       id         path    string  true "Chat ID (UUID)"  format(uuid)
// @Param       body       body    handlers.UpdateVisibilityRequest true "New visibility"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/visibility [put]
func (h *Handlers) UpdateVisibility(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	var req UpdateVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "visibility required")
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

	err = h.chatSvc.SetVisibility(ctx, chatID, req.Visibility)
	switch {
	case errors.Is(err, services.ErrInvalidVisibility):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		return
	case err != nil:
		failDomain(c, err, http.StatusInternalServerError, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

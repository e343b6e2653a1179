// Vote HTTP handlers.
//
// This file exposes the feedback endpoints:
//   - GET   /vote?chatId=…  (list votes for a chat)
//   - PATCH /vote           (up/downvote a message)
//
// The gating sequence is deliberate and identical for both verbs: missing
// chatId → 400, unauthenticated → 401 (middleware), chat not found → 200
// with a degraded-equivalent body (never 404 — a brief storage outage and a
// genuinely absent chat must look the same to the UI), non-owner → 403.
// Votes are pure feedback signal, so the PATCH succeeds even when nothing
// was durably recorded; the body says which path was taken.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

//
// DTOs
//

// PatchVoteRequest is the JSON payload for voting on a message.
type PatchVoteRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	// Type is "up" or "down".
	Type string `json:"type"`
}

//
// Handlers
//

// ListVotes godoc
// @ID          listVotes
// @Summary     List votes for a chat
// @Description Returns the chat's votes. An absent chat yields 200 with an empty list, never 404.
// @Tags        Votes
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       chatId     query   string  true "Chat ID"
//
// @Success     200  {array}  domain.Vote
// @Failure     400  {object} handlers.ErrorResponse "chatId missing"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Router      /vote [get]
func (h *Handlers) ListVotes(c *gin.Context) {
	ctx := c.Request.Context()

	chatID := strings.TrimSpace(c.Query("chatId"))
	if chatID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chatId is required")
		return
	}

	ch, err := h.chatSvc.Get(ctx, chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch == nil {
		ok(c, http.StatusOK, []struct{}{})
		return
	}
	if ch.UserID != userID(c) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}

	ok(c, http.StatusOK, h.voteSvc.ListByChat(ctx, chatID))
}

// PatchVote godoc
// @ID          patchVote
// @Summary     Vote on a message
// @Description Records an up/down vote for a message. Repeating with a different type replaces the previous direction. An absent chat still returns 200; the body notes the offline path.
// @Tags        Votes
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       body       body    handlers.PatchVoteRequest true "Vote payload"
//
// @Success     200  {string} string "Message voted"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Router      /vote [patch]
func (h *Handlers) PatchVote(c *gin.Context) {
	ctx := c.Request.Context()

	var req PatchVoteRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		strings.TrimSpace(req.ChatID) == "" ||
		strings.TrimSpace(req.MessageID) == "" ||
		(req.Type != "up" && req.Type != "down") {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest,
			"chatId, messageId, and type (up|down) are required")
		return
	}

	ch, err := h.chatSvc.Get(ctx, req.ChatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch == nil {
		c.String(http.StatusOK, "Message voted (offline mode)")
		return
	}
	if ch.UserID != userID(c) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}

	h.voteSvc.Upsert(ctx, req.ChatID, req.MessageID, req.Type == "up")
	c.String(http.StatusOK, "Message voted")
}

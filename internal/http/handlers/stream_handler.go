// Stream resumption HTTP handler.
//
// This file exposes GET /chats/{id}/stream, the reattachment point for
// clients that lost their generation mid-flight. The resumption state comes
// from the Coordinator; when the stream is live and the client accepts
// text/event-stream, the handler replays the buffered chunks and then tails
// the feed over SSE. Otherwise it answers with a small JSON state document
// the client polls once on reconnect.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/services"
	"github.com/loomchat/go-convo-backend/internal/streams"
)

// StreamStateResponse is the JSON form of a resumption decision.
type StreamStateResponse struct {
	// State is "active", "recovered", or "no_stream".
	State string `json:"state"`
	// StreamID names the stream the state refers to, when there is one.
	StreamID string `json:"stream_id,omitempty"`
	// Message is the persisted assistant turn for the recovered state.
	Message *domain.Message `json:"message,omitempty"`
}

// GetStream godoc
// @ID          getStream
// @Summary     Resume an in-flight generation
// @Description Reports the chat's resumption state. With Accept: text/event-stream and a live stream, replays buffered output and tails the remainder as SSE.
// @Tags        Streams
// @Produce     json
// @Produce     text/event-stream
//
// @Param       X-User-ID  header  string  true "User ID (gateway header)"
// @Param       id         path    string  true "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} handlers.StreamStateResponse
// @Failure     403  {object} handlers.ErrorResponse "Not allowed to read this chat"
// @Router      /chats/{id}/stream [get]
func (h *Handlers) GetStream(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	ch, err := h.chatSvc.Get(ctx, chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	if ch != nil && !canRead(ch, userID(c)) {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "not allowed")
		return
	}

	res, err := h.streamSvc.Lookup(ctx, chatID)
	if err != nil {
		failDomain(c, err, http.StatusInternalServerError, ErrCodeInternal)
		return
	}
	streams.MarkReattach(res.State)

	if res.State == services.StateActive && wantsEventStream(c) {
		h.tailStream(c, chatID, res.StreamID)
		return
	}

	ok(c, http.StatusOK, StreamStateResponse{
		State:    res.State,
		StreamID: res.StreamID,
		Message:  res.Message,
	})
}

// wantsEventStream reports whether the client asked for SSE.
func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// tailStream replays the buffered chunks of a live stream and then forwards
// new ones until the stream ends or the client disconnects. Subscribe
// guarantees the backlog and the channel never overlap, so each chunk is
// written exactly once.
func (h *Handlers) tailStream(c *gin.Context, chatID, streamID string) {
	backlog, ch, cancel, err := h.streamSvc.Subscribe(c.Request.Context(), chatID, streamID)
	if err != nil {
		// The stream ended between Lookup and Subscribe; report the final
		// state instead of an error.
		ok(c, http.StatusOK, StreamStateResponse{State: services.StateNoStream})
		return
	}
	defer cancel()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)
	writeEvent := func(data string) {
		_, _ = c.Writer.WriteString("data: " + data + "\n\n")
		if canFlush {
			flusher.Flush()
		}
	}

	for _, chunk := range backlog {
		writeEvent(chunk)
	}

	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case chunk, okCh := <-ch:
			if !okCh {
				_, _ = c.Writer.WriteString("event: end\ndata: \n\n")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			writeEvent(chunk)
		}
	}
}

// Package streams tracks live, in-flight generation streams so a client
// that disconnects mid-generation can reattach and receive the remainder.
//
// Only stream identifiers are durable (the ledger in the repo package);
// the stream state held here is ephemeral by design. A registry entry that
// disappears — process restart, TTL expiry — simply means the stream can no
// longer be resumed, and the coordinator reports NoStream.
//
// The registry is also the per-chat single-writer token: Open refuses a
// second live stream for a chat, and Append refuses chunks from a stream id
// that is no longer the chat's current writer.
package streams

import (
	"context"
	"errors"
)

var (
	// ErrActive is returned by Open when the chat already has a live stream.
	ErrActive = errors.New("chat already has a live stream")

	// ErrNotCurrent is returned by Append/Close when streamID does not hold
	// the chat's writer token.
	ErrNotCurrent = errors.New("stream is not the current writer for this chat")
)

// Registry is the live-stream store. Implementations must be safe for
// concurrent use.
type Registry interface {
	// Open claims the writer token for chatID under streamID.
	Open(ctx context.Context, chatID, streamID string) error

	// Append buffers a chunk and fans it out to subscribers. The caller must
	// hold the writer token.
	Append(ctx context.Context, chatID, streamID, data string) error

	// Close releases the writer token and terminates subscriptions. The
	// buffered chunks are discarded; by the time a stream closes its output
	// has been persisted as a Message.
	Close(ctx context.Context, chatID, streamID string) error

	// Current returns the live stream id for chatID, if any.
	Current(ctx context.Context, chatID string) (string, bool)

	// Subscribe attaches to a live stream, returning the chunks buffered so
	// far and a channel delivering subsequent ones. The backlog and the
	// channel never overlap, so each chunk is seen exactly once. The channel
	// is closed when the stream ends or when the subscriber falls too far
	// behind; a re-subscribe replays the full backlog either way. cancel
	// detaches early. Returns ErrNotCurrent when streamID is not live.
	Subscribe(ctx context.Context, chatID, streamID string) (backlog []string, ch <-chan string, cancel func(), err error)
}

// Package services – StreamService and Coordinator
//
// The durable side of resumable delivery is nothing but a ledger of stream
// ids per chat; chunks and liveness live in the streams registry. This file
// owns both halves: StreamService persists the ledger, Coordinator runs the
// begin/append/complete protocol and decides what a reattaching client gets.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/repo"
	"github.com/loomchat/go-convo-backend/internal/streams"
)

// recoveryWindow bounds how old a persisted assistant message may be and
// still stand in for a stream that finished while the client was away.
const recoveryWindow = 15 * time.Second

// StreamService persists the stream-id ledger.
type StreamService struct {
	Store *repo.Manager
}

// Record appends streamID to chatID's ledger. Best-effort: a ledger entry
// lost to an outage only costs resumability for that one generation.
func (s *StreamService) Record(ctx context.Context, streamID, chatID string) {
	bestEffortWrite(ctx, s.Store, "record stream id",
		func(ctx context.Context, db *gorm.DB) error {
			return repo.CreateStreamID(ctx, db, streamID, chatID)
		})
}

// ListIDs returns chatID's ledger oldest-first. Safety-critical: the
// resumption decision keys off the newest entry, and guessing while the
// store is down could replay the wrong stream.
func (s *StreamService) ListIDs(ctx context.Context, chatID string) ([]domain.StreamID, error) {
	return critical(ctx, s.Store, "list stream ids", KindBadRequestDB,
		func(ctx context.Context, db *gorm.DB) ([]domain.StreamID, error) {
			return repo.ListStreamIDs(ctx, db, chatID)
		})
}

// Resumption states reported by Coordinator.Lookup.
const (
	// StateNoStream means there is nothing to resume.
	StateNoStream = "no_stream"
	// StateActive means a live stream exists and can be attached to.
	StateActive = "active"
	// StateRecovered means the stream just finished; its output is the
	// returned message.
	StateRecovered = "recovered"
)

// Resumption is the answer to "what should a reattaching client see".
type Resumption struct {
	State    string
	StreamID string
	// Message is the persisted assistant turn, set only for StateRecovered.
	Message *domain.Message
}

// Coordinator runs the stream lifecycle: one live stream per chat, chunks
// fanned out through the registry, output persisted as a message on
// completion.
type Coordinator struct {
	Ledger   *StreamService
	Messages *MessageService
	Live     streams.Registry
}

// Begin claims the chat's writer token and records the new stream id in the
// ledger. Returns ErrStreamActive when another generation is in flight.
func (c *Coordinator) Begin(ctx context.Context, chatID string) (string, error) {
	streamID := uuid.NewString()
	if err := c.Live.Open(ctx, chatID, streamID); err != nil {
		if errors.Is(err, streams.ErrActive) {
			return "", ErrStreamActive
		}
		return "", err
	}
	c.Ledger.Record(ctx, streamID, chatID)
	return streamID, nil
}

// Append delivers one chunk to the live stream. Returns ErrStreamSuperseded
// when streamID no longer holds the chat's writer token.
func (c *Coordinator) Append(ctx context.Context, chatID, streamID, data string) error {
	if err := c.Live.Append(ctx, chatID, streamID, data); err != nil {
		if errors.Is(err, streams.ErrNotCurrent) {
			return ErrStreamSuperseded
		}
		return err
	}
	return nil
}

// Complete persists the finished output as an assistant message, then closes
// the live stream so attached clients see the end of the feed. The writer
// token is verified before anything is written: a superseded stream must not
// land its output alongside the successor's. Persist-then-close ordering for
// the holder: once the registry entry is gone, the message rows are the only
// copy of the output.
func (c *Coordinator) Complete(ctx context.Context, chatID, streamID string, msgs []domain.Message) ([]domain.Message, error) {
	if cur, ok := c.Live.Current(ctx, chatID); !ok || cur != streamID {
		return nil, ErrStreamSuperseded
	}
	saved := c.Messages.Append(ctx, chatID, msgs)
	if err := c.Live.Close(ctx, chatID, streamID); err != nil {
		if errors.Is(err, streams.ErrNotCurrent) {
			return saved, ErrStreamSuperseded
		}
		return saved, err
	}
	return saved, nil
}

// Abort closes the live stream without persisting output, for generations
// that failed upstream. Superseded streams are already closed; that is not
// an error here.
func (c *Coordinator) Abort(ctx context.Context, chatID, streamID string) {
	if err := c.Live.Close(ctx, chatID, streamID); err != nil && !errors.Is(err, streams.ErrNotCurrent) {
		log.Warn().Err(err).Str("chat_id", chatID).Str("stream_id", streamID).Msg("abort stream failed")
	}
}

// Subscribe attaches to the live stream for replay and tail delivery. Thin
// passthrough so transport code never touches the registry directly.
func (c *Coordinator) Subscribe(ctx context.Context, chatID, streamID string) ([]string, <-chan string, func(), error) {
	return c.Live.Subscribe(ctx, chatID, streamID)
}

// Lookup decides what a reattaching client should see for chatID.
//
// The newest ledger entry is authoritative. When an assistant message at
// least as new as that entry is already persisted, the generation is over:
// within recoveryWindow the message itself is handed back (Recovered),
// beyond it there is nothing to resume. When the ledger entry is newer than
// any persisted output, the stream is live only if the registry still holds
// it; a ledger entry whose live state died with its process reports
// NoStream — only the identifier was ever durable.
func (c *Coordinator) Lookup(ctx context.Context, chatID string) (Resumption, error) {
	ids, err := c.Ledger.ListIDs(ctx, chatID)
	if err != nil {
		return Resumption{}, err
	}
	if len(ids) == 0 {
		return Resumption{State: StateNoStream}, nil
	}
	latest := ids[len(ids)-1]

	last := c.Messages.LatestAssistant(ctx, chatID)
	if last != nil && !last.CreatedAt.Before(latest.CreatedAt) {
		if time.Since(last.CreatedAt) < recoveryWindow {
			return Resumption{State: StateRecovered, StreamID: latest.ID, Message: last}, nil
		}
		return Resumption{State: StateNoStream}, nil
	}

	if cur, ok := c.Live.Current(ctx, chatID); ok && cur == latest.ID {
		return Resumption{State: StateActive, StreamID: latest.ID}, nil
	}
	return Resumption{State: StateNoStream}, nil
}

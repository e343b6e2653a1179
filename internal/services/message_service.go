// Package services – MessageService
//
// This file implements MessageService, which owns message persistence and
// the per-user quota counter. Appends are best-effort batch inserts (the
// conversational UI must never lose a turn to a storage hiccup), listing
// degrades to an empty slice, and the rewind used by edit/regenerate is
// safety-critical because it destroys durable rows.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// chat/user identifiers.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/repo"
)

// MessageService coordinates message persistence, retrieval, and quota.
type MessageService struct {
	Store *repo.Manager

	// QuotaWindow is the trailing window for the per-user message count.
	QuotaWindow time.Duration
	// QuotaMax is the number of user messages allowed per window; 0 disables.
	QuotaMax int
}

// Append persists a batch of messages for chatID. Ids and timestamps missing
// from the batch are synthesized, with timestamps spaced a millisecond apart
// so createdAt stays strictly increasing within the batch and the
// conversation order is reconstructable.
//
// Best-effort: the (possibly synthesized) batch is returned and no error is
// ever raised; if the store is down the turn simply is not durable.
func (s *MessageService) Append(ctx context.Context, chatID string, msgs []domain.Message) []domain.Message {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Append",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.Int("batch.size", len(msgs)),
		),
	)
	defer span.End()

	now := time.Now().UTC()
	for i := range msgs {
		msgs[i].ChatID = chatID
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		if msgs[i].CreatedAt.IsZero() {
			msgs[i].CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
	}

	bestEffortWrite(ctx, s.Store, "append messages",
		func(ctx context.Context, db *gorm.DB) error {
			return repo.CreateMessages(ctx, db, msgs)
		})
	return msgs
}

// List returns the messages of a chat oldest-first. Degraded → [].
func (s *MessageService) List(ctx context.Context, chatID string) []domain.Message {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()

	return bestEffortRead(ctx, s.Store, "list messages", []domain.Message{},
		func(ctx context.Context, db *gorm.DB) ([]domain.Message, error) {
			out, err := repo.ListMessages(ctx, db, chatID)
			if out == nil {
				out = []domain.Message{}
			}
			return out, err
		})
}

// Get fetches a single message by id. Safety-critical: the edit flow uses
// the result's timestamp as the rewind anchor, so a wrong answer here would
// delete the wrong suffix.
func (s *MessageService) Get(ctx context.Context, id string) (*domain.Message, error) {
	m, err := critical(ctx, s.Store, "get message", KindBadRequestDB,
		func(ctx context.Context, db *gorm.DB) (*domain.Message, error) {
			return repo.GetMessage(ctx, db, id)
		})
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMessageNotFound
	}
	return m, err
}

// DeleteAfter removes every message of chatID created at or after ts,
// together with the votes referencing them. Safety-critical. Returns the
// number of messages removed.
func (s *MessageService) DeleteAfter(ctx context.Context, chatID string, ts time.Time) (int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "DeleteAfter",
		trace.WithAttributes(attribute.String("chat.id", chatID)),
	)
	defer span.End()

	return critical(ctx, s.Store, "delete messages after timestamp", KindBadRequestDB,
		func(ctx context.Context, db *gorm.DB) (int64, error) {
			return repo.DeleteMessagesAfter(ctx, db, chatID, ts)
		})
}

// LatestAssistant returns the newest assistant message of a chat, or nil when
// there is none or the store is down.
func (s *MessageService) LatestAssistant(ctx context.Context, chatID string) *domain.Message {
	return bestEffortRead(ctx, s.Store, "latest assistant message", (*domain.Message)(nil),
		func(ctx context.Context, db *gorm.DB) (*domain.Message, error) {
			m, err := repo.LatestMessageByRole(ctx, db, chatID, domain.RoleAssistant)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return m, err
		})
}

// CountRecent returns how many user-role messages userID has sent within the
// configured quota window. Degraded → 0: rate limiting fails open, a storage
// outage must never block sending.
func (s *MessageService) CountRecent(ctx context.Context, userID string) int64 {
	window := s.QuotaWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window)

	return bestEffortRead(ctx, s.Store, "count user messages", int64(0),
		func(ctx context.Context, db *gorm.DB) (int64, error) {
			return repo.CountUserMessagesSince(ctx, db, userID, since)
		})
}

// CheckQuota returns ErrQuotaExceeded when userID has exhausted the rolling
// window allowance. A zero QuotaMax disables the check.
func (s *MessageService) CheckQuota(ctx context.Context, userID string) error {
	if s.QuotaMax <= 0 {
		return nil
	}
	if s.CountRecent(ctx, userID) >= int64(s.QuotaMax) {
		return ErrQuotaExceeded
	}
	return nil
}

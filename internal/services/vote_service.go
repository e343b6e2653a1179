// Package services – VoteService
//
// Votes are pure feedback signal, so every operation here is best-effort:
// upserts skip silently when the store is down and listing degrades to an
// empty slice. The UI shows whatever it knows; a vote lost to an outage is
// an acceptable cost for never surfacing a failure page over a thumbs-up.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/repo"
)

// VoteService records and lists per-message feedback.
type VoteService struct {
	Store *repo.Manager
}

// Upsert records the vote direction for (chatID, messageID), replacing any
// previous direction. Never returns an error.
func (s *VoteService) Upsert(ctx context.Context, chatID, messageID string, isUpvoted bool) {
	bestEffortWrite(ctx, s.Store, "upsert vote",
		func(ctx context.Context, db *gorm.DB) error {
			return repo.UpsertVote(ctx, db, chatID, messageID, isUpvoted)
		})
}

// ListByChat returns all votes of a chat. Degraded → [].
func (s *VoteService) ListByChat(ctx context.Context, chatID string) []domain.Vote {
	return bestEffortRead(ctx, s.Store, "list votes", []domain.Vote{},
		func(ctx context.Context, db *gorm.DB) ([]domain.Vote, error) {
			out, err := repo.ListVotes(ctx, db, chatID)
			if out == nil {
				out = []domain.Vote{}
			}
			return out, err
		})
}

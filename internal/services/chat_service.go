// Package services – ChatService
//
// This file implements the ChatService, which manages the chat lifecycle:
// creation with a caller-supplied id, lookup, cursor-paginated history,
// cascade deletion, visibility changes, and the advisory last-context
// snapshot. Creation and the history read are best-effort (the UI must keep
// working through a storage outage); deletion and visibility are
// safety-critical and fail loud.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/repo"
)

// ChatService provides chat-level operations. All methods are context-aware
// and safe for concurrent use; the only shared state is the injected
// connection Manager.
type ChatService struct {
	// Store is the connection manager used for all chat operations.
	Store *repo.Manager

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
	// TitleLocale selects the casing rules for derived titles.
	TitleLocale language.Tag
}

// NewChatService constructs a ChatService with sane defaults for title handling.
func NewChatService(store *repo.Manager) *ChatService {
	return &ChatService{
		Store:       store,
		TitleMaxLen: 60,
		TitleLocale: language.English,
	}
}

// Create inserts a new chat with the caller-supplied id. The title hint is
// typically the user's first prompt; a compact title is derived from it.
//
// Classification: best-effort with one carve-out. When the store is
// unavailable or the insert fails transiently, a synthesized chat echoing
// the inputs is returned so the conversation can proceed unsaved. An id
// collision, however, is a client-visible conflict and returns ErrChatExists
// rather than silently overwriting.
func (s *ChatService) Create(ctx context.Context, id, userID, titleHint, visibility string) (*domain.Chat, error) {
	if visibility == "" {
		visibility = domain.VisibilityPrivate
	}
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return nil, ErrInvalidVisibility
	}
	title := s.deriveTitle(titleHint)

	synthesized := &domain.Chat{
		ID:         id,
		UserID:     userID,
		Title:      title,
		Visibility: visibility,
		CreatedAt:  time.Now().UTC(),
	}

	db, err := s.Store.Acquire()
	if err != nil {
		return synthesized, nil
	}
	c, err := repo.CreateChat(ctx, db, id, userID, title, visibility)
	if errors.Is(err, repo.ErrDuplicateID) {
		return nil, ErrChatExists
	}
	if err != nil {
		return synthesized, nil
	}
	return c, nil
}

// Get fetches a chat by id. Degraded or missing both yield (nil, nil):
// callers treat an unreachable store like an absent row.
func (s *ChatService) Get(ctx context.Context, id string) (*domain.Chat, error) {
	c := bestEffortRead(ctx, s.Store, "get chat", (*domain.Chat)(nil),
		func(ctx context.Context, db *gorm.DB) (*domain.Chat, error) {
			c, err := repo.GetChat(ctx, db, id)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return c, err
		})
	return c, nil
}

// History returns one cursor-resolved page of the user's chats, newest
// first. A broken cursor (anchor id that resolves to nothing) propagates as
// a not_found DomainError; every other failure degrades to an empty page.
func (s *ChatService) History(ctx context.Context, userID string, limit int, startingAfter, endingBefore string) (*repo.ChatPage, error) {
	if limit < 1 {
		limit = 20
	}
	empty := &repo.ChatPage{Chats: []domain.Chat{}, HasMore: false}

	db, err := s.Store.Acquire()
	if err != nil {
		return empty, nil
	}
	page, err := repo.ListChatsByUser(ctx, db, userID, limit, startingAfter, endingBefore)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		anchor := startingAfter
		if anchor == "" {
			anchor = endingBefore
		}
		return nil, NewDomainError(KindNotFoundDB, "chat with id "+anchor+" not found", err)
	}
	if err != nil {
		return empty, nil
	}
	if page.Chats == nil {
		page.Chats = []domain.Chat{}
	}
	return page, nil
}

// Stats returns the owner's chat count and newest creation time for weak
// ETags. Degraded → (0, nil).
func (s *ChatService) Stats(ctx context.Context, userID string) (int64, *time.Time) {
	type agg struct {
		count int64
		max   *time.Time
	}
	a := bestEffortRead(ctx, s.Store, "chat stats", agg{},
		func(ctx context.Context, db *gorm.DB) (agg, error) {
			count, max, err := repo.ChatsStats(ctx, db, userID)
			return agg{count: count, max: max}, err
		})
	return a.count, a.max
}

// Delete removes a chat and its messages, votes, and stream ledger entries.
// Safety-critical: failures propagate as a typed error, a missing chat as
// ErrChatNotFound.
func (s *ChatService) Delete(ctx context.Context, id string) (*domain.Chat, error) {
	c, err := critical(ctx, s.Store, "delete chat", KindBadRequestDB,
		func(ctx context.Context, db *gorm.DB) (*domain.Chat, error) {
			return repo.DeleteChat(ctx, db, id)
		})
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}

// SetVisibility changes who may read the chat. Safety-critical.
func (s *ChatService) SetVisibility(ctx context.Context, id, visibility string) error {
	if visibility != domain.VisibilityPrivate && visibility != domain.VisibilityPublic {
		return ErrInvalidVisibility
	}
	_, err := critical(ctx, s.Store, "update chat visibility", KindBadRequestDB,
		func(ctx context.Context, db *gorm.DB) (struct{}, error) {
			return struct{}{}, repo.UpdateChatVisibility(ctx, db, id, visibility)
		})
	if err != nil && errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChatNotFound
	}
	return err
}

// SetLastContext stores the opaque usage snapshot from the latest
// generation. Advisory telemetry: log-and-continue on any failure.
func (s *ChatService) SetLastContext(ctx context.Context, id string, lastContext datatypes.JSON) {
	bestEffortWrite(ctx, s.Store, "update chat last context",
		func(ctx context.Context, db *gorm.DB) error {
			return repo.UpdateChatLastContext(ctx, db, id, lastContext)
		})
}

// deriveTitle builds a compact chat title from the hint (usually the first
// prompt): stop-words dropped, each word title-cased per the configured
// locale, at most eight words, clipped by rune length.
func (s *ChatService) deriveTitle(hint string) string {
	hint = normalizeSpace(hint)
	if hint == "" {
		return "New chat"
	}
	toks := titleWordRE.FindAllString(strings.ToLower(hint), -1)
	caser := cases.Title(s.locale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return s.clip(hint)
	}
	return s.clip(strings.Join(out, " "))
}

func (s *ChatService) locale() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}

// clip truncates a title to the configured maximum rune length.
func (s *ChatService) clip(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// normalizeSpace trims and collapses consecutive whitespace to single spaces.
func normalizeSpace(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)
	titleWordRE  = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)
)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}

package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/repo"
)

// newServiceStore opens a throwaway SQLite store with the full schema and
// returns a live Manager plus the raw handle for seeding.
func newServiceStore(t *testing.T) (*repo.Manager, *gorm.DB) {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return repo.NewManagerFromDB(db), db
}

// downStore returns a Manager whose single acquisition attempt always fails,
// putting every service built on it into degraded mode.
func downStore() *repo.Manager {
	return repo.NewManager(func() (*gorm.DB, error) {
		return nil, errors.New("connection refused")
	})
}

func seedChat(t *testing.T, db *gorm.DB, id, userID string, createdAt time.Time) {
	t.Helper()
	c := domain.Chat{ID: id, UserID: userID, Title: "Chat " + id, Visibility: domain.VisibilityPrivate, CreatedAt: createdAt}
	if err := db.Create(&c).Error; err != nil {
		t.Fatalf("seed chat %s: %v", id, err)
	}
}

func TestChatServiceCreate_PersistsAndDerivesTitle(t *testing.T) {
	store, db := newServiceStore(t)
	svc := NewChatService(store)

	chat, err := svc.Create(context.Background(), "id-1", "u1", "what is the meaning of life", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if chat.Title != "What Meaning Life" {
		t.Fatalf("unexpected derived title: %q", chat.Title)
	}
	if chat.Visibility != domain.VisibilityPrivate {
		t.Fatalf("expected private default, got %q", chat.Visibility)
	}

	var got domain.Chat
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("chat not persisted: %v", err)
	}
}

func TestChatServiceCreate_DuplicateID(t *testing.T) {
	store, _ := newServiceStore(t)
	svc := NewChatService(store)

	if _, err := svc.Create(context.Background(), "dup", "u1", "first", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := svc.Create(context.Background(), "dup", "u1", "second", ""); !errors.Is(err, ErrChatExists) {
		t.Fatalf("expected ErrChatExists, got %v", err)
	}
}

func TestChatServiceCreate_InvalidVisibility(t *testing.T) {
	store, _ := newServiceStore(t)
	svc := NewChatService(store)

	if _, err := svc.Create(context.Background(), "id-1", "u1", "hello", "unlisted"); !errors.Is(err, ErrInvalidVisibility) {
		t.Fatalf("expected ErrInvalidVisibility, got %v", err)
	}
}

func TestChatServiceCreate_DegradedSynthesizes(t *testing.T) {
	svc := NewChatService(downStore())

	chat, err := svc.Create(context.Background(), "id-1", "u1", "hello world", "")
	if err != nil {
		t.Fatalf("expected no error in degraded mode, got %v", err)
	}
	if chat == nil || chat.ID != "id-1" || chat.UserID != "u1" {
		t.Fatalf("expected synthesized chat echoing inputs, got %+v", chat)
	}
	if chat.Title != "Hello World" {
		t.Fatalf("title still derived in degraded mode, got %q", chat.Title)
	}
}

func TestChatServiceDeriveTitle(t *testing.T) {
	svc := NewChatService(nil)

	cases := []struct {
		name, hint, want string
	}{
		{"empty", "   ", "New chat"},
		{"stop words dropped", "how to fix the build on linux", "How Fix Build Linux"},
		{"all stop words falls back to hint", "the of to", "the of to"},
		{"eight word cap", "one two three four five six seven eight nine ten", "One Two Three Four Five Six Seven Eight"},
		{"whitespace collapsed", "  hello\t\n  world  ", "Hello World"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := svc.deriveTitle(tc.hint); got != tc.want {
				t.Fatalf("deriveTitle(%q) = %q, want %q", tc.hint, got, tc.want)
			}
		})
	}
}

func TestChatServiceDeriveTitle_ClipsRunes(t *testing.T) {
	svc := NewChatService(nil)
	svc.TitleMaxLen = 10

	got := svc.deriveTitle("internationalization considerations everywhere")
	if n := len([]rune(got)); n > 10 {
		t.Fatalf("title not clipped: %q (%d runes)", got, n)
	}
}

func TestChatServiceGet_MissingAndDegraded(t *testing.T) {
	store, _ := newServiceStore(t)
	svc := NewChatService(store)

	chat, err := svc.Get(context.Background(), "nope")
	if err != nil || chat != nil {
		t.Fatalf("expected (nil, nil) for missing chat, got %v %v", chat, err)
	}

	down := NewChatService(downStore())
	chat, err = down.Get(context.Background(), "any")
	if err != nil || chat != nil {
		t.Fatalf("expected (nil, nil) in degraded mode, got %v %v", chat, err)
	}
}

func TestChatServiceHistory_PagesNewestFirst(t *testing.T) {
	store, db := newServiceStore(t)
	svc := NewChatService(store)

	base := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"c1", "c2", "c3"} {
		seedChat(t, db, id, "u1", base.Add(time.Duration(i)*time.Minute))
	}

	page, err := svc.History(context.Background(), "u1", 2, "", "")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Chats) != 2 || !page.HasMore {
		t.Fatalf("expected 2 chats with more, got %d %v", len(page.Chats), page.HasMore)
	}
	if page.Chats[0].ID != "c3" {
		t.Fatalf("expected newest first, got %s", page.Chats[0].ID)
	}
}

func TestChatServiceHistory_BrokenAnchor(t *testing.T) {
	store, db := newServiceStore(t)
	svc := NewChatService(store)
	seedChat(t, db, "c1", "u1", time.Now().UTC())

	_, err := svc.History(context.Background(), "u1", 10, "no-such-chat", "")
	if DomainKind(err) != KindNotFoundDB {
		t.Fatalf("expected %s DomainError, got %v", KindNotFoundDB, err)
	}
}

func TestChatServiceHistory_DegradedEmptyPage(t *testing.T) {
	svc := NewChatService(downStore())

	page, err := svc.History(context.Background(), "u1", 10, "", "")
	if err != nil {
		t.Fatalf("expected no error in degraded mode, got %v", err)
	}
	if page == nil || page.Chats == nil || len(page.Chats) != 0 || page.HasMore {
		t.Fatalf("expected empty page, got %+v", page)
	}
}

func TestChatServiceStats_Degraded(t *testing.T) {
	svc := NewChatService(downStore())

	count, max := svc.Stats(context.Background(), "u1")
	if count != 0 || max != nil {
		t.Fatalf("expected (0, nil) in degraded mode, got %d %v", count, max)
	}
}

func TestChatServiceDelete(t *testing.T) {
	store, db := newServiceStore(t)
	svc := NewChatService(store)
	seedChat(t, db, "c1", "u1", time.Now().UTC())

	deleted, err := svc.Delete(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.ID != "c1" {
		t.Fatalf("expected deleted chat echoed, got %+v", deleted)
	}

	if _, err := svc.Delete(context.Background(), "c1"); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestChatServiceDelete_DegradedFailsLoud(t *testing.T) {
	svc := NewChatService(downStore())

	_, err := svc.Delete(context.Background(), "c1")
	if DomainKind(err) != KindBadRequestDB {
		t.Fatalf("expected %s DomainError, got %v", KindBadRequestDB, err)
	}
}

func TestChatServiceSetVisibility(t *testing.T) {
	store, db := newServiceStore(t)
	svc := NewChatService(store)
	seedChat(t, db, "c1", "u1", time.Now().UTC())

	if err := svc.SetVisibility(context.Background(), "c1", domain.VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	var got domain.Chat
	if err := db.First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Visibility != domain.VisibilityPublic {
		t.Fatalf("visibility not updated: %+v", got)
	}

	if err := svc.SetVisibility(context.Background(), "c1", "unlisted"); !errors.Is(err, ErrInvalidVisibility) {
		t.Fatalf("expected ErrInvalidVisibility, got %v", err)
	}
	if err := svc.SetVisibility(context.Background(), "nope", domain.VisibilityPublic); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

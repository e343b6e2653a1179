package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// seedChats inserts n chats for userID with strictly increasing CreatedAt
// and ids c1..cn (c1 oldest).
func seedChats(t *testing.T, db *gorm.DB, userID string, n int) []domain.Chat {
	t.Helper()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]domain.Chat, 0, n)
	for i := 1; i <= n; i++ {
		c := domain.Chat{
			ID:         fmt.Sprintf("c%d", i),
			UserID:     userID,
			Title:      fmt.Sprintf("Chat %d", i),
			Visibility: domain.VisibilityPrivate,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("seed %s: %v", c.ID, err)
		}
		out = append(out, c)
	}
	return out
}

func TestCreateChat_PersistsAndSetsFields(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})

	start := time.Now().UTC().Add(-time.Minute)
	chat, err := CreateChat(context.Background(), db, "id-1", "u1", "My Chat", domain.VisibilityPrivate)
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	if chat.ID != "id-1" || chat.UserID != "u1" || chat.Title != "My Chat" {
		t.Fatalf("unexpected Chat fields: %+v", chat)
	}
	if chat.CreatedAt.Before(start) {
		t.Fatalf("CreatedAt seems unset/really old: %v", chat.CreatedAt)
	}

	var got domain.Chat
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("load created chat: %v", err)
	}
	if got.Visibility != domain.VisibilityPrivate {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestCreateChat_DuplicateID(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})

	if _, err := CreateChat(context.Background(), db, "dup", "u1", "First", domain.VisibilityPrivate); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := CreateChat(context.Background(), db, "dup", "u1", "Second", domain.VisibilityPrivate)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestListChatsByUser_FirstPage_NewestFirst(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	seedChats(t, db, "u1", 5)
	other := domain.Chat{ID: "zx", UserID: "u2", Title: "Other", CreatedAt: time.Now().UTC()}
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("seed other: %v", err)
	}

	page, err := ListChatsByUser(context.Background(), db, "u1", 3, "", "")
	if err != nil {
		t.Fatalf("ListChatsByUser: %v", err)
	}
	if len(page.Chats) != 3 || !page.HasMore {
		t.Fatalf("expected 3 chats and hasMore, got %d hasMore=%v", len(page.Chats), page.HasMore)
	}
	if page.Chats[0].ID != "c5" || page.Chats[1].ID != "c4" || page.Chats[2].ID != "c3" {
		t.Fatalf("unexpected order: %s %s %s", page.Chats[0].ID, page.Chats[1].ID, page.Chats[2].ID)
	}
}

func TestListChatsByUser_CursorWalkVisitsEveryChatOnce(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	seedChats(t, db, "u1", 7)

	// The sidebar walks older pages by anchoring ending_before on the last
	// chat of the previous page.
	const pageSize = 3
	seen := map[string]int{}
	cursor := ""
	pages := 0
	for {
		page, err := ListChatsByUser(context.Background(), db, "u1", pageSize, "", cursor)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for i := 1; i < len(page.Chats); i++ {
			if !page.Chats[i].CreatedAt.Before(page.Chats[i-1].CreatedAt) {
				t.Fatalf("page %d not newest-first", pages)
			}
		}
		for _, c := range page.Chats {
			seen[c.ID]++
		}
		pages++
		if !page.HasMore {
			break
		}
		cursor = page.Chats[len(page.Chats)-1].ID
	}

	if len(seen) != 7 {
		t.Fatalf("expected 7 distinct chats, got %d", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("chat %s visited %d times", id, n)
		}
	}
	if pages != 3 {
		t.Fatalf("expected 3 pages, got %d", pages)
	}
}

func TestListChatsByUser_AnchorDirections(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	seedChats(t, db, "u1", 5)

	// starting_after c3 → strictly newer chats, still newest first.
	page, err := ListChatsByUser(context.Background(), db, "u1", 10, "c3", "")
	if err != nil {
		t.Fatalf("starting_after: %v", err)
	}
	if len(page.Chats) != 2 || page.HasMore {
		t.Fatalf("expected 2 chats, hasMore=false; got %d %v", len(page.Chats), page.HasMore)
	}
	if page.Chats[0].ID != "c5" || page.Chats[1].ID != "c4" {
		t.Fatalf("unexpected order: %s %s", page.Chats[0].ID, page.Chats[1].ID)
	}

	// ending_before c3 → strictly older chats.
	page, err = ListChatsByUser(context.Background(), db, "u1", 10, "", "c3")
	if err != nil {
		t.Fatalf("ending_before: %v", err)
	}
	if len(page.Chats) != 2 || page.HasMore {
		t.Fatalf("expected 2 chats, hasMore=false; got %d %v", len(page.Chats), page.HasMore)
	}
	if page.Chats[0].ID != "c2" || page.Chats[1].ID != "c1" {
		t.Fatalf("unexpected order: %s %s", page.Chats[0].ID, page.Chats[1].ID)
	}
}

func TestListChatsByUser_BrokenAnchor(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	seedChats(t, db, "u1", 2)

	_, err := ListChatsByUser(context.Background(), db, "u1", 10, "no-such-chat", "")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for broken anchor, got %v", err)
	}
}

func TestDeleteChat_CascadesAndReturnsChat(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{}, &domain.Message{}, &domain.Vote{}, &domain.StreamID{})
	seedChats(t, db, "u1", 1)

	msg := domain.Message{ID: "m1", ChatID: "c1", Role: domain.RoleUser, Parts: []byte(`[{"type":"text","text":"hi"}]`), CreatedAt: time.Now().UTC()}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := db.Create(&domain.Vote{ChatID: "c1", MessageID: "m1", IsUpvoted: true}).Error; err != nil {
		t.Fatalf("seed vote: %v", err)
	}
	if err := db.Create(&domain.StreamID{ID: "s1", ChatID: "c1", CreatedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("seed stream: %v", err)
	}

	deleted, err := DeleteChat(context.Background(), db, "c1")
	if err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if deleted.ID != "c1" {
		t.Fatalf("expected deleted chat c1, got %+v", deleted)
	}

	for _, check := range []struct {
		name  string
		model any
	}{
		{"message", &domain.Message{}},
		{"vote", &domain.Vote{}},
		{"stream", &domain.StreamID{}},
	} {
		var n int64
		if err := db.Model(check.model).Where("chat_id = ?", "c1").Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", check.name, err)
		}
		if n != 0 {
			t.Fatalf("%s rows survived cascade: %d", check.name, n)
		}
	}

	if _, err := GetChat(context.Background(), db, "c1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected chat gone after delete, got %v", err)
	}
}

func TestDeleteChat_Missing(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{}, &domain.Message{}, &domain.Vote{}, &domain.StreamID{})
	if _, err := DeleteChat(context.Background(), db, "nope"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestUpdateChatVisibility(t *testing.T) {
	db := newRepoDB(t, &domain.Chat{})
	seedChats(t, db, "u1", 1)

	if err := UpdateChatVisibility(context.Background(), db, "c1", domain.VisibilityPublic); err != nil {
		t.Fatalf("UpdateChatVisibility: %v", err)
	}
	var got domain.Chat
	if err := db.First(&got, "id = ?", "c1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Visibility != domain.VisibilityPublic {
		t.Fatalf("visibility not updated: %+v", got)
	}

	if err := UpdateChatVisibility(context.Background(), db, "nope", domain.VisibilityPublic); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for missing chat, got %v", err)
	}
}

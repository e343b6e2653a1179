package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/domain"
	"github.com/loomchat/go-convo-backend/internal/streams"
)

func newCoordinator(t *testing.T) (*Coordinator, *gorm.DB) {
	t.Helper()
	store, db := newServiceStore(t)
	coord := &Coordinator{
		Ledger:   &StreamService{Store: store},
		Messages: &MessageService{Store: store},
		Live:     streams.NewMemoryRegistry(),
	}
	return coord, db
}

func seedStreamLedger(t *testing.T, db *gorm.DB, id, chatID string, createdAt time.Time) {
	t.Helper()
	s := domain.StreamID{ID: id, ChatID: chatID, CreatedAt: createdAt}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed ledger %s: %v", id, err)
	}
}

func seedAssistantMessage(t *testing.T, db *gorm.DB, id, chatID string, createdAt time.Time) {
	t.Helper()
	m := domain.Message{ID: id, ChatID: chatID, Role: domain.RoleAssistant, Parts: []byte(`[{"type":"text","text":"done"}]`), CreatedAt: createdAt}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed message %s: %v", id, err)
	}
}

func TestStreamServiceRecordAndList(t *testing.T) {
	store, db := newServiceStore(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())
	svc := &StreamService{Store: store}

	svc.Record(context.Background(), "s1", "c1")
	svc.Record(context.Background(), "s2", "c1")

	ids, err := svc.ListIDs(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(ids))
	}
}

func TestStreamServiceDegraded(t *testing.T) {
	svc := &StreamService{Store: downStore()}

	// Best-effort write: no panic, no error surface.
	svc.Record(context.Background(), "s1", "c1")

	// Safety-critical read fails loud.
	if _, err := svc.ListIDs(context.Background(), "c1"); DomainKind(err) != KindBadRequestDB {
		t.Fatalf("expected %s DomainError, got %v", KindBadRequestDB, err)
	}
}

func TestCoordinatorBegin_OnePerChat(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())
	ctx := context.Background()

	streamID, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if streamID == "" {
		t.Fatal("expected a stream id")
	}

	if _, err := coord.Begin(ctx, "c1"); !errors.Is(err, ErrStreamActive) {
		t.Fatalf("expected ErrStreamActive for second writer, got %v", err)
	}

	// The ledger recorded the attempt.
	var n int64
	if err := db.Model(&domain.StreamID{}).Where("chat_id = ?", "c1").Count(&n).Error; err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", n)
	}
}

func TestCoordinatorAppend_Superseded(t *testing.T) {
	coord, _ := newCoordinator(t)
	ctx := context.Background()

	streamID, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := coord.Append(ctx, "c1", streamID, "chunk"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := coord.Append(ctx, "c1", "stale-id", "chunk"); !errors.Is(err, ErrStreamSuperseded) {
		t.Fatalf("expected ErrStreamSuperseded, got %v", err)
	}
}

func TestCoordinatorComplete_PersistsThenCloses(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())
	ctx := context.Background()

	streamID, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := coord.Append(ctx, "c1", streamID, "partial"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	_, ch, cancel, err := coord.Subscribe(ctx, "c1", streamID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer cancel()

	saved, err := coord.Complete(ctx, "c1", streamID, []domain.Message{
		{Role: domain.RoleAssistant, Parts: []byte(`[{"type":"text","text":"done"}]`)},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(saved) != 1 || saved[0].ID == "" {
		t.Fatalf("expected 1 saved message with id, got %+v", saved)
	}

	var n int64
	if err := db.Model(&domain.Message{}).Where("chat_id = ?", "c1").Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 1 {
		t.Fatalf("output not persisted: %d rows", n)
	}

	// Subscribers see the end of the feed.
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected channel closed after Complete")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream end")
	}

	if _, ok := coord.Live.Current(ctx, "c1"); ok {
		t.Fatal("expected no live stream after Complete")
	}
}

func TestCoordinatorComplete_SupersededPersistsNothing(t *testing.T) {
	coord, db := newCoordinator(t)
	ctx := context.Background()

	s1, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin s1: %v", err)
	}
	coord.Abort(ctx, "c1", s1)
	s2, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin s2: %v", err)
	}

	// The first generation finishes late, after a successor claimed the
	// writer token: its output must not be written at all.
	_, err = coord.Complete(ctx, "c1", s1, []domain.Message{
		{Role: domain.RoleAssistant, Parts: []byte(`[{"type":"text","text":"stale"}]`)},
	})
	if !errors.Is(err, ErrStreamSuperseded) {
		t.Fatalf("expected ErrStreamSuperseded, got %v", err)
	}

	var n int64
	if err := db.Model(&domain.Message{}).Where("chat_id = ?", "c1").Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 0 {
		t.Fatalf("superseded stream persisted output: %d rows", n)
	}

	// The successor is untouched and still live.
	if cur, ok := coord.Live.Current(ctx, "c1"); !ok || cur != s2 {
		t.Fatalf("expected %s still live, got %q ok=%v", s2, cur, ok)
	}
}

func TestCoordinatorAbort_ClosesWithoutPersisting(t *testing.T) {
	coord, db := newCoordinator(t)
	ctx := context.Background()

	streamID, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	coord.Abort(ctx, "c1", streamID)
	// Aborting a stream that is already gone is fine.
	coord.Abort(ctx, "c1", streamID)

	var n int64
	if err := db.Model(&domain.Message{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("abort persisted output: %d rows", n)
	}
	if _, ok := coord.Live.Current(ctx, "c1"); ok {
		t.Fatal("expected no live stream after Abort")
	}
}

func TestCoordinatorLookup_EmptyLedger(t *testing.T) {
	coord, _ := newCoordinator(t)

	res, err := coord.Lookup(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.State != StateNoStream {
		t.Fatalf("expected %s, got %+v", StateNoStream, res)
	}
}

func TestCoordinatorLookup_Active(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())
	ctx := context.Background()

	streamID, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	res, err := coord.Lookup(ctx, "c1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.State != StateActive || res.StreamID != streamID {
		t.Fatalf("expected active %s, got %+v", streamID, res)
	}
}

func TestCoordinatorLookup_LedgerNewerThanOutput(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())
	ctx := context.Background()

	// A previous generation's output, then a newer live attempt: the newest
	// ledger entry wins even though a persisted assistant message exists.
	seedAssistantMessage(t, db, "m1", "c1", time.Now().UTC().Add(-time.Minute))
	streamID, err := coord.Begin(ctx, "c1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	res, err := coord.Lookup(ctx, "c1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.State != StateActive || res.StreamID != streamID {
		t.Fatalf("expected active despite older output, got %+v", res)
	}
}

func TestCoordinatorLookup_DeadRegistryEntry(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())

	// Ledger entry from a process that died before closing its stream: the
	// registry has no trace of it, so there is nothing to resume.
	seedStreamLedger(t, db, "s1", "c1", time.Now().UTC().Add(-time.Minute))

	res, err := coord.Lookup(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.State != StateNoStream {
		t.Fatalf("expected %s for dead stream, got %+v", StateNoStream, res)
	}
}

func TestCoordinatorLookup_RecoveredWithinWindow(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())

	now := time.Now().UTC()
	seedStreamLedger(t, db, "s1", "c1", now.Add(-5*time.Second))
	seedAssistantMessage(t, db, "m1", "c1", now.Add(-2*time.Second))

	res, err := coord.Lookup(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.State != StateRecovered {
		t.Fatalf("expected %s, got %+v", StateRecovered, res)
	}
	if res.Message == nil || res.Message.ID != "m1" {
		t.Fatalf("expected recovered message m1, got %+v", res.Message)
	}
	if res.StreamID != "s1" {
		t.Fatalf("expected stream id s1, got %q", res.StreamID)
	}
}

func TestCoordinatorLookup_FinishedLongAgo(t *testing.T) {
	coord, db := newCoordinator(t)
	seedChat(t, db, "c1", "u1", time.Now().UTC())

	now := time.Now().UTC()
	seedStreamLedger(t, db, "s1", "c1", now.Add(-2*time.Minute))
	seedAssistantMessage(t, db, "m1", "c1", now.Add(-time.Minute))

	res, err := coord.Lookup(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if res.State != StateNoStream {
		t.Fatalf("expected %s long after completion, got %+v", StateNoStream, res)
	}
}

func TestCoordinatorLookup_DegradedLedgerFailsLoud(t *testing.T) {
	coord := &Coordinator{
		Ledger:   &StreamService{Store: downStore()},
		Messages: &MessageService{Store: downStore()},
		Live:     streams.NewMemoryRegistry(),
	}

	_, err := coord.Lookup(context.Background(), "c1")
	if DomainKind(err) != KindBadRequestDB {
		t.Fatalf("expected %s DomainError, got %v", KindBadRequestDB, err)
	}
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomchat/go-convo-backend/internal/domain"
)

func TestIdempotency_CreateThenGet(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})

	rec, err := CreateIdempotency(context.Background(), db, "u1", "c1", "key-1", "m1,m2", 200, time.Hour)
	if err != nil {
		t.Fatalf("CreateIdempotency: %v", err)
	}
	if rec.ID == "" || rec.MessageIDs != "m1,m2" || rec.Status != 200 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetIdempotency(context.Background(), db, "u1", "c1", "key-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetIdempotency: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("round-trip mismatch: %+v vs %+v", got, rec)
	}
}

func TestIdempotency_Duplicate(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})

	if _, err := CreateIdempotency(context.Background(), db, "u1", "c1", "key-1", "m1", 200, time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := CreateIdempotency(context.Background(), db, "u1", "c1", "key-1", "m2", 200, time.Hour)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same key under a different chat is a separate tuple.
	if _, err := CreateIdempotency(context.Background(), db, "u1", "c2", "key-1", "m3", 200, time.Hour); err != nil {
		t.Fatalf("create under other chat: %v", err)
	}
}

func TestIdempotency_ExpiredRecordInvisible(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})

	if _, err := CreateIdempotency(context.Background(), db, "u1", "c1", "key-1", "m1", 200, time.Minute); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A lookup after the TTL sees nothing.
	future := time.Now().UTC().Add(2 * time.Minute)
	if _, err := GetIdempotency(context.Background(), db, "u1", "c1", "key-1", future); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound past expiry, got %v", err)
	}
}

func TestIdempotency_EmptyChatID(t *testing.T) {
	db := newRepoDB(t, &domain.Idempotency{})

	if _, err := GetIdempotency(context.Background(), db, "u1", "", "key-1", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty chat id, got %v", err)
	}
}

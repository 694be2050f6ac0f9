package repo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPublishRecord_CreateGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := CreatePublishRecord(ctx, db, "public", "k1", "ev1", time.Hour)
	if err != nil {
		t.Fatalf("CreatePublishRecord: %v", err)
	}
	if rec.ID == "" || rec.EventID != "ev1" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	got, err := GetPublishRecord(ctx, db, "public", "k1", time.Now().UTC())
	if err != nil {
		t.Fatalf("GetPublishRecord: %v", err)
	}
	if got.EventID != "ev1" {
		t.Fatalf("EventID = %q, want ev1", got.EventID)
	}
}

func TestPublishRecord_DuplicateTuple(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreatePublishRecord(ctx, db, "public", "k1", "ev1", time.Hour); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreatePublishRecord(ctx, db, "public", "k1", "ev2", time.Hour); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// Same key under a different thought is a distinct tuple.
	if _, err := CreatePublishRecord(ctx, db, "group-1", "k1", "ev3", time.Hour); err != nil {
		t.Fatalf("create for other thought: %v", err)
	}
}

func TestPublishRecord_ExpiredIsNotFound(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreatePublishRecord(ctx, db, "public", "k1", "ev1", time.Millisecond); err != nil {
		t.Fatalf("create: %v", err)
	}

	later := time.Now().UTC().Add(time.Second)
	if _, err := GetPublishRecord(ctx, db, "public", "k1", later); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

func TestPublishRecord_BlankThoughtIsNotFound(t *testing.T) {
	db := newTestDB(t)

	if _, err := GetPublishRecord(context.Background(), db, "  ", "k1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank thought id, got %v", err)
	}
}

func TestPurgeExpiredPublishRecords(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreatePublishRecord(ctx, db, "public", "old", "ev1", time.Millisecond); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if _, err := CreatePublishRecord(ctx, db, "public", "fresh", "ev2", time.Hour); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	n, err := PurgeExpiredPublishRecords(ctx, db, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("PurgeExpiredPublishRecords: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d rows, want 1", n)
	}

	if _, err := GetPublishRecord(ctx, db, "public", "fresh", time.Now().UTC()); err != nil {
		t.Fatalf("fresh record should survive purge: %v", err)
	}
}

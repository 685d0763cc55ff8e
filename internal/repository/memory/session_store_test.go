package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/repository"
)

func newRecord(handle, userID string, expiresAt time.Time) domain.SessionRecord {
	return domain.SessionRecord{
		Handle:           handle,
		UserID:           userID,
		UserDataInJWT:    json.RawMessage(`{"role":"admin"}`),
		SessionData:      json.RawMessage(`{"cart":[]}`),
		RefreshTokenHash: "hash-1",
		AntiCsrfToken:    "csrf-1",
		CreatedAt:        expiresAt.Add(-time.Hour),
		ExpiresAt:        expiresAt,
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := NewSessionStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("h1", "u1", now.Add(time.Hour))); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Create(ctx, newRecord("h1", "u1", now.Add(time.Hour))); !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	record, err := store.Get(ctx, "h1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record.UserID != "u1" || string(record.SessionData) != `{"cart":[]}` {
		t.Fatalf("unexpected record: %+v", record)
	}

	record.SessionData[0] = 'X'
	again, _ := store.Get(ctx, "h1")
	if string(again.SessionData) != `{"cart":[]}` {
		t.Fatalf("store leaked internal buffer: %s", again.SessionData)
	}
}

func TestSessionStore_ExpiredRecordIsAbsent(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := NewSessionStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("h1", "u1", now)); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := store.Get(ctx, "h1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired record, got %v", err)
	}
}

func TestSessionStore_RotateRefreshTokenCompareAndSwap(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := NewSessionStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Create(ctx, newRecord("h1", "u1", now.Add(time.Hour))); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.RotateRefreshToken(ctx, domain.RefreshRotation{
				Handle:       "h1",
				ExpectedHash: "hash-1",
				NewHash:      "hash-2",
				ExpiresAt:    now.Add(2 * time.Hour),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, repository.ErrRefreshTokenMismatch):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected exactly one successful rotation, got %d successes and %d conflicts", successes, conflicts)
	}

	record, _ := store.Get(ctx, "h1")
	if record.RefreshTokenHash != "hash-2" || !record.ExpiresAt.Equal(now.Add(2*time.Hour)) {
		t.Fatalf("rotation not applied: %+v", record)
	}

	err := store.RotateRefreshToken(ctx, domain.RefreshRotation{Handle: "missing", ExpectedHash: "x"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing handle, got %v", err)
	}
}

func TestSessionStore_DeleteIsIdempotent(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, newRecord("h1", "u1", time.Now().Add(time.Hour)))

	deleted, err := store.Delete(ctx, "h1")
	if err != nil || !deleted {
		t.Fatalf("expected first delete to succeed, got %v, %v", deleted, err)
	}
	deleted, err = store.Delete(ctx, "h1")
	if err != nil || deleted {
		t.Fatalf("expected second delete to report false, got %v, %v", deleted, err)
	}
}

func TestSessionStore_UserScopedOperations(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)
	_ = store.Create(ctx, newRecord("h2", "u1", expires))
	_ = store.Create(ctx, newRecord("h1", "u1", expires))
	_ = store.Create(ctx, newRecord("h3", "u2", expires))

	handles, err := store.ListHandlesForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListHandlesForUser returned error: %v", err)
	}
	if len(handles) != 2 || handles[0] != "h1" || handles[1] != "h2" {
		t.Fatalf("unexpected handles: %v", handles)
	}

	count, err := store.DeleteAllForUser(ctx, "u1")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 deletions, got %d, %v", count, err)
	}
	handles, _ = store.ListHandlesForUser(ctx, "u1")
	if len(handles) != 0 {
		t.Fatalf("expected no handles after revoke-all, got %v", handles)
	}
	if _, err := store.Get(ctx, "h3"); err != nil {
		t.Fatalf("other user's session should survive: %v", err)
	}
}

func TestSessionStore_UpdateSessionData(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()
	_ = store.Create(ctx, newRecord("h1", "u1", time.Now().Add(time.Hour)))

	if err := store.UpdateSessionData(ctx, "h1", json.RawMessage(`{"cart":[1]}`)); err != nil {
		t.Fatalf("UpdateSessionData returned error: %v", err)
	}
	record, _ := store.Get(ctx, "h1")
	if string(record.SessionData) != `{"cart":[1]}` {
		t.Fatalf("unexpected session data: %s", record.SessionData)
	}
	if err := store.UpdateSessionData(ctx, "missing", json.RawMessage(`{}`)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

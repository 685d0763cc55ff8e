package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepository_SlidingWindow(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRateLimitRepository(client, "")
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "refresh:10.0.0.1", base.Add(time.Duration(i)*10*time.Second), window); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	snapshot, err := repo.Snapshot(ctx, "refresh:10.0.0.1", window, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snapshot.Count != 3 {
		t.Fatalf("expected 3 attempts, got %d", snapshot.Count)
	}
	if !snapshot.Oldest.Equal(base) {
		t.Fatalf("expected oldest %v, got %v", base, snapshot.Oldest)
	}

	snapshot, err = repo.Snapshot(ctx, "refresh:10.0.0.1", window, base.Add(65*time.Second))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snapshot.Count != 2 {
		t.Fatalf("expected 2 attempts after the window slid, got %d", snapshot.Count)
	}
	if !snapshot.Oldest.Equal(base.Add(10 * time.Second)) {
		t.Fatalf("unexpected oldest attempt %v", snapshot.Oldest)
	}

	members, err := server.ZMembers("session:ratelimit:refresh:10.0.0.1")
	if err != nil {
		t.Fatalf("ZMembers returned error: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected trimmed set of 2 members, got %d", len(members))
	}
	if ttl := server.TTL("session:ratelimit:refresh:10.0.0.1"); ttl <= 0 {
		t.Fatalf("expected ttl to be applied, got %v", ttl)
	}
}

func TestRateLimitRepository_EmptyWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rl")

	snapshot, err := repo.Snapshot(context.Background(), "nobody", time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snapshot.Count != 0 || !snapshot.Oldest.IsZero() {
		t.Fatalf("expected empty window, got %+v", snapshot)
	}
}

func TestRateLimitRepository_InvalidInput(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, "rl")

	if _, err := repo.Snapshot(context.Background(), "id", 0, time.Now()); err == nil {
		t.Fatalf("expected error for non-positive window")
	}
	if err := repo.RecordAttempt(context.Background(), " ", time.Now(), time.Minute); err == nil {
		t.Fatalf("expected error for empty identifier")
	}
}

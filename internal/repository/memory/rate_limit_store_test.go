package memory

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitStore_SlidingWindow(t *testing.T) {
	store := NewRateLimitStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.RecordAttempt(ctx, "ip", base.Add(time.Duration(i)*20*time.Second), time.Minute); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	snap, err := store.Snapshot(ctx, "ip", time.Minute, base.Add(50*time.Second))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap.Count != 3 || !snap.Oldest.Equal(base) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	snap, err = store.Snapshot(ctx, "ip", time.Minute, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap.Count != 1 || !snap.Oldest.Equal(base.Add(40*time.Second)) {
		t.Fatalf("unexpected snapshot after slide %+v", snap)
	}

	snap, err = store.Snapshot(ctx, "ip", time.Minute, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap.Count != 0 {
		t.Fatalf("expected empty window, got %+v", snap)
	}
}

func TestRateLimitStore_InvalidInput(t *testing.T) {
	store := NewRateLimitStore()
	if _, err := store.Snapshot(context.Background(), "ip", 0, time.Now()); err == nil {
		t.Fatalf("expected error for non-positive window")
	}
	if err := store.RecordAttempt(context.Background(), "", time.Now(), time.Minute); err == nil {
		t.Fatalf("expected error for empty identifier")
	}
}

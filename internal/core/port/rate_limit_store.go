package port

import (
	"context"
	"time"
)

// AttemptWindow summarises the attempts recorded for an identifier inside a sliding window.
type AttemptWindow struct {
	Count  int
	Oldest time.Time
}

// RateLimitStore defines the persistence operations required to enforce sliding-window limits.
type RateLimitStore interface {
	// Snapshot drops attempts older than the window and reports what is left.
	Snapshot(ctx context.Context, identifier string, window time.Duration, reference time.Time) (AttemptWindow, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time, window time.Duration) error
}

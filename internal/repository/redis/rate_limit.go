package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/session-service/internal/core/port"
)

const defaultRateLimitPrefix = "session:ratelimit"

// RateLimitRepository persists rate-limit attempts in Redis sorted sets scored by unix nanoseconds.
type RateLimitRepository struct {
	client *red.Client
	prefix string
}

// NewRateLimitRepository constructs a repository using the provided Redis client.
func NewRateLimitRepository(client *red.Client, keyPrefix string) *RateLimitRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RateLimitRepository{client: client, prefix: prefix}
}

// Snapshot trims expired attempts and returns the count and oldest attempt in one round trip.
func (r *RateLimitRepository) Snapshot(ctx context.Context, identifier string, window time.Duration, reference time.Time) (port.AttemptWindow, error) {
	if window <= 0 {
		return port.AttemptWindow{}, errors.New("window must be positive")
	}
	key, err := r.key(identifier)
	if err != nil {
		return port.AttemptWindow{}, err
	}

	lower, upper := scoreRange(reference, window)

	var (
		count  *red.IntCmd
		oldest *red.ZSliceCmd
	)
	_, err = r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+lower)
		count = pipe.ZCount(ctx, key, lower, upper)
		oldest = pipe.ZRangeByScoreWithScores(ctx, key, &red.ZRangeBy{Min: lower, Max: upper, Count: 1})
		return nil
	})
	if err != nil {
		return port.AttemptWindow{}, fmt.Errorf("redis rate limit snapshot: %w", err)
	}

	result := port.AttemptWindow{Count: int(count.Val())}
	if members := oldest.Val(); len(members) > 0 {
		result.Oldest = time.Unix(0, int64(members[0].Score))
	}
	return result, nil
}

// RecordAttempt stores the attempt and keeps the key alive for one window.
func (r *RateLimitRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time, window time.Duration) error {
	key, err := r.key(identifier)
	if err != nil {
		return err
	}

	member := red.Z{Score: float64(at.UnixNano()), Member: strconv.FormatInt(at.UnixNano(), 10)}
	_, err = r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.ZAdd(ctx, key, member)
		if window > 0 {
			pipe.PExpire(ctx, key, window)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) key(identifier string) (string, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return "", errors.New("rate limit identifier is required")
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed), nil
}

func scoreRange(reference time.Time, window time.Duration) (string, string) {
	lower := strconv.FormatInt(reference.Add(-window).UnixNano(), 10)
	upper := strconv.FormatInt(reference.UnixNano(), 10)
	return lower, upper
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)

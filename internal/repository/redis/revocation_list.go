package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/session-service/internal/core/port"
)

const defaultRevocationPrefix = "session:revoked"

// RevocationList keeps one expiring key per revoked handle, holding the revoke reason.
type RevocationList struct {
	client *red.Client
	prefix string
}

func NewRevocationList(client *red.Client, keyPrefix string) *RevocationList {
	prefix := strings.TrimSuffix(strings.TrimSpace(keyPrefix), ":")
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	return &RevocationList{client: client, prefix: prefix}
}

// Revoke writes all flags in one pipeline so revoking every session of a user is a
// single round trip.
func (l *RevocationList) Revoke(ctx context.Context, handles []string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("revocation ttl must be positive, got %s", ttl)
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "revoked"
	}

	pipe := l.client.TxPipeline()
	queued := 0
	for _, handle := range handles {
		if handle = strings.TrimSpace(handle); handle == "" {
			continue
		}
		pipe.Set(ctx, l.key(handle), reason, ttl)
		queued++
	}
	if queued == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis revoke %d sessions: %w", queued, err)
	}
	return nil
}

func (l *RevocationList) Lookup(ctx context.Context, handle string) (string, bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", false, errors.New("session handle is required")
	}

	reason, err := l.client.Get(ctx, l.key(handle)).Result()
	switch {
	case errors.Is(err, red.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("redis lookup revocation: %w", err)
	}
	return reason, true, nil
}

func (l *RevocationList) key(handle string) string {
	return l.prefix + ":" + handle
}

var _ port.RevocationList = (*RevocationList)(nil)

package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arklim/session-service/internal/core/port"
)

type revocation struct {
	reason    string
	expiresAt time.Time
}

// RevocationList is the in-process revocation list used when Redis is not configured.
// Expired flags are dropped lazily on lookup.
type RevocationList struct {
	mu      sync.Mutex
	revoked map[string]revocation
	now     func() time.Time
}

func NewRevocationList() *RevocationList {
	return &RevocationList{revoked: make(map[string]revocation), now: time.Now}
}

func (l *RevocationList) Revoke(_ context.Context, handles []string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("revocation ttl must be positive, got %s", ttl)
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "revoked"
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	expiresAt := l.now().Add(ttl)
	for _, handle := range handles {
		if handle = strings.TrimSpace(handle); handle != "" {
			l.revoked[handle] = revocation{reason: reason, expiresAt: expiresAt}
		}
	}
	return nil
}

func (l *RevocationList) Lookup(_ context.Context, handle string) (string, bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return "", false, errors.New("session handle is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.revoked[handle]
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.After(l.now()) {
		delete(l.revoked, handle)
		return "", false, nil
	}
	return entry.reason, true, nil
}

var _ port.RevocationList = (*RevocationList)(nil)

// Package memory provides a process-local session store for tests and single-node development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/repository"
)

// SessionStore keeps session records in a mutex-guarded map.
type SessionStore struct {
	mu      sync.Mutex
	records map[string]domain.SessionRecord
	now     func() time.Time
}

// NewSessionStore constructs an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		records: make(map[string]domain.SessionRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the clock used for expiry checks.
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Create inserts a new record.
func (s *SessionStore) Create(_ context.Context, record domain.SessionRecord) error {
	if strings.TrimSpace(record.Handle) == "" {
		return fmt.Errorf("session handle is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Handle]; exists {
		return repository.ErrAlreadyExists
	}
	s.records[record.Handle] = cloneRecord(record)
	return nil
}

// Get returns a copy of the live record for handle.
func (s *SessionStore) Get(_ context.Context, handle string) (*domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(handle)
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneRecord(record)
	return &out, nil
}

// UpdateSessionData replaces the session data blob. Last write wins.
func (s *SessionStore) UpdateSessionData(_ context.Context, handle string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(handle)
	if !ok {
		return repository.ErrNotFound
	}
	record.SessionData = cloneRaw(data)
	s.records[handle] = record
	return nil
}

// RotateRefreshToken swaps the lineage marker when the expected hash still matches.
func (s *SessionStore) RotateRefreshToken(_ context.Context, rotation domain.RefreshRotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.liveLocked(rotation.Handle)
	if !ok {
		return repository.ErrNotFound
	}
	if record.RefreshTokenHash != rotation.ExpectedHash {
		return repository.ErrRefreshTokenMismatch
	}

	record.RefreshTokenHash = rotation.NewHash
	record.AntiCsrfToken = rotation.AntiCsrfToken
	record.ExpiresAt = rotation.ExpiresAt
	s.records[rotation.Handle] = record
	return nil
}

// Delete removes the record and reports whether a live one existed.
func (s *SessionStore) Delete(_ context.Context, handle string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.liveLocked(handle)
	delete(s.records, handle)
	return ok, nil
}

// DeleteAllForUser removes every record owned by userID.
func (s *SessionStore) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for handle, record := range s.records {
		if record.UserID != userID {
			continue
		}
		if !record.IsExpired(now) {
			count++
		}
		delete(s.records, handle)
	}
	return count, nil
}

// ListHandlesForUser returns the live handles owned by userID in handle order.
func (s *SessionStore) ListHandlesForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	handles := make([]string, 0)
	for handle, record := range s.records {
		if record.UserID == userID && !record.IsExpired(now) {
			handles = append(handles, handle)
		}
	}
	sort.Strings(handles)
	return handles, nil
}

func (s *SessionStore) liveLocked(handle string) (domain.SessionRecord, bool) {
	record, ok := s.records[handle]
	if !ok {
		return domain.SessionRecord{}, false
	}
	if record.IsExpired(s.now()) {
		delete(s.records, handle)
		return domain.SessionRecord{}, false
	}
	return record, true
}

func cloneRecord(record domain.SessionRecord) domain.SessionRecord {
	record.UserDataInJWT = cloneRaw(record.UserDataInJWT)
	record.SessionData = cloneRaw(record.SessionData)
	return record
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

var _ port.SessionStore = (*SessionStore)(nil)

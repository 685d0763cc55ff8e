package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/session-service/internal/core/port"
)

// RateLimitStore keeps sliding-window attempts in process memory.
type RateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewRateLimitStore constructs an empty store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{attempts: make(map[string][]time.Time)}
}

// Snapshot drops attempts older than window and reports the rest.
func (s *RateLimitStore) Snapshot(_ context.Context, identifier string, window time.Duration, reference time.Time) (port.AttemptWindow, error) {
	if window <= 0 {
		return port.AttemptWindow{}, errors.New("window must be positive")
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return port.AttemptWindow{}, errors.New("rate limit identifier is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := reference.Add(-window)
	kept := s.attempts[identifier][:0]
	for _, at := range s.attempts[identifier] {
		if !at.Before(threshold) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attempts, identifier)
		return port.AttemptWindow{}, nil
	}
	s.attempts[identifier] = kept

	var result port.AttemptWindow
	for _, at := range kept {
		if at.After(reference) {
			continue
		}
		if result.Count == 0 || at.Before(result.Oldest) {
			result.Oldest = at
		}
		result.Count++
	}
	return result, nil
}

// RecordAttempt appends an attempt for identifier.
func (s *RateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time, _ time.Duration) error {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return errors.New("rate limit identifier is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.attempts[identifier], at)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	s.attempts[identifier] = list
	return nil
}

var _ port.RateLimitStore = (*RateLimitStore)(nil)

// Package natskv stores session records in a NATS JetStream Key-Value bucket.
//
// Records live under s.{handle}. A per-user index is kept under
// u.{base64url(userID)}.{handle} so handles can be listed with a prefix watch.
// Rotation relies on the KV revision as the compare-and-swap token.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/repository"
)

// DefaultBucket is the bucket used when the config leaves it empty.
const DefaultBucket = "SESSIONS"

const maxUpdateAttempts = 8

var ErrUnsafeHandle = errors.New("session handle contains NATS-unsafe characters")

// storedRecord is the JSON document persisted per handle.
type storedRecord struct {
	UserID           string          `json:"user_id"`
	UserDataInJWT    json.RawMessage `json:"user_data_in_jwt"`
	SessionData      json.RawMessage `json:"session_data"`
	RefreshTokenHash string          `json:"refresh_token_hash"`
	AntiCsrfToken    string          `json:"anti_csrf_token,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// SessionStore implements port.SessionStore on NATS KV.
type SessionStore struct {
	kv  nats.KeyValue
	now func() time.Time
}

// NewSessionStore opens the bucket described by conf, creating it when missing.
func NewSessionStore(conn *nats.Conn, conf nats.KeyValueConfig) (*SessionStore, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	if conf.Bucket == "" {
		conf.Bucket = DefaultBucket
	}

	kv, err := js.KeyValue(conf.Bucket)
	switch {
	case errors.Is(err, nats.ErrBucketNotFound):
		kv, err = js.CreateKeyValue(&conf)
		if err != nil {
			return nil, fmt.Errorf("creating new KV bucket: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("opening KV bucket: %w", err)
	}

	return &SessionStore{kv: kv, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WithClock overrides the clock used for expiry checks.
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Create stores a new record. An existing handle yields repository.ErrAlreadyExists.
func (s *SessionStore) Create(_ context.Context, record domain.SessionRecord) error {
	key, err := recordKey(record.Handle)
	if err != nil {
		return err
	}
	if record.UserID == "" {
		return fmt.Errorf("user id is required")
	}

	payload, err := json.Marshal(toStored(record))
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	if _, err := s.kv.Create(key, payload); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("storing session in KV: %w", err)
	}

	if _, err := s.kv.Put(indexKey(record.UserID, record.Handle), []byte(record.Handle)); err != nil {
		return fmt.Errorf("indexing session: %w", err)
	}
	return nil
}

// Get returns the live record for handle.
func (s *SessionStore) Get(_ context.Context, handle string) (*domain.SessionRecord, error) {
	record, _, err := s.load(handle)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateSessionData replaces the data blob, retrying on concurrent writers.
func (s *SessionStore) UpdateSessionData(_ context.Context, handle string, data json.RawMessage) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, revision, err := s.load(handle)
		if err != nil {
			return err
		}
		record.SessionData = append(json.RawMessage(nil), data...)

		err = s.update(record, revision)
		if errors.Is(err, nats.ErrKeyExists) {
			continue
		}
		return err
	}
	return fmt.Errorf("updating session data: too many concurrent writers")
}

// RotateRefreshToken swaps the refresh hash when the stored one still equals rotation.ExpectedHash.
func (s *SessionStore) RotateRefreshToken(_ context.Context, rotation domain.RefreshRotation) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, revision, err := s.load(rotation.Handle)
		if err != nil {
			return err
		}
		if record.RefreshTokenHash != rotation.ExpectedHash {
			return repository.ErrRefreshTokenMismatch
		}

		record.RefreshTokenHash = rotation.NewHash
		record.AntiCsrfToken = rotation.AntiCsrfToken
		record.ExpiresAt = rotation.ExpiresAt

		err = s.update(record, revision)
		if errors.Is(err, nats.ErrKeyExists) {
			// Someone wrote in between; reload and re-check the hash.
			continue
		}
		return err
	}
	return repository.ErrRefreshTokenMismatch
}

// Delete removes the record and its index entry. It reports whether a live record was removed.
// The delete is conditional on the revision that was read, so of two concurrent deletes only
// one reports true.
func (s *SessionStore) Delete(_ context.Context, handle string) (bool, error) {
	key, err := recordKey(handle)
	if err != nil {
		return false, err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		entry, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				return false, nil
			}
			return false, fmt.Errorf("getting session: %w", err)
		}

		var stored storedRecord
		if err := json.Unmarshal(entry.Value(), &stored); err != nil {
			return false, fmt.Errorf("unmarshaling session record: %w", err)
		}

		err = s.kv.Delete(key, nats.LastRevision(entry.Revision()))
		if isWrongRevision(err) {
			// Rotated or deleted in between; re-read.
			continue
		}
		if err != nil {
			return false, fmt.Errorf("deleting session: %w", err)
		}

		if err := s.kv.Delete(indexKey(stored.UserID, handle)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return false, fmt.Errorf("deleting session index: %w", err)
		}
		return stored.ExpiresAt.After(s.now()), nil
	}
	return false, fmt.Errorf("deleting session: too many concurrent writers")
}

func isWrongRevision(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

// DeleteAllForUser removes every session indexed for userID and returns how many were live.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	handles, err := s.indexedHandles(ctx, userID)
	if err != nil {
		return 0, err
	}

	var (
		deleted int
		errs    []error
	)
	for _, handle := range handles {
		ok, err := s.Delete(ctx, handle)
		if err != nil {
			errs = append(errs, fmt.Errorf("deleting session %q: %w", handle, err))
			continue
		}
		if !ok {
			s.dropIndex(userID, handle)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// ListHandlesForUser returns the sorted live handles for userID, pruning stale index entries.
func (s *SessionStore) ListHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	handles, err := s.indexedHandles(ctx, userID)
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(handles))
	for _, handle := range handles {
		if _, _, err := s.load(handle); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.dropIndex(userID, handle)
				continue
			}
			return nil, err
		}
		live = append(live, handle)
	}
	sort.Strings(live)
	return live, nil
}

func (s *SessionStore) load(handle string) (*domain.SessionRecord, uint64, error) {
	key, err := recordKey(handle)
	if err != nil {
		return nil, 0, repository.ErrNotFound
	}

	entry, err := s.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, 0, repository.ErrNotFound
		}
		return nil, 0, fmt.Errorf("getting session: %w", err)
	}

	var stored storedRecord
	if err := json.Unmarshal(entry.Value(), &stored); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling session record: %w", err)
	}
	if !stored.ExpiresAt.After(s.now()) {
		_ = s.kv.Delete(key, nats.LastRevision(entry.Revision()))
		s.dropIndex(stored.UserID, handle)
		return nil, 0, repository.ErrNotFound
	}

	record := fromStored(handle, stored)
	return &record, entry.Revision(), nil
}

func (s *SessionStore) update(record *domain.SessionRecord, revision uint64) error {
	payload, err := json.Marshal(toStored(*record))
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	if _, err := s.kv.Update(recordPrefix+record.Handle, payload, revision); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return err
		}
		return fmt.Errorf("updating session in KV: %w", err)
	}
	return nil
}

func (s *SessionStore) indexedHandles(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	watcher, err := s.kv.Watch(userPrefix(userID)+"*",
		nats.IgnoreDeletes(), nats.MetaOnly(), nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("watching user sessions: %w", err)
	}
	defer func() { _ = watcher.Stop() }()

	var handles []string
	for entry := range watcher.Updates() {
		if entry == nil {
			break
		}
		handle := strings.TrimPrefix(entry.Key(), userPrefix(userID))
		if handle != "" {
			handles = append(handles, handle)
		}
	}
	return handles, nil
}

func (s *SessionStore) dropIndex(userID, handle string) {
	if userID == "" {
		return
	}
	_ = s.kv.Delete(indexKey(userID, handle))
}

const recordPrefix = "s."

func recordKey(handle string) (string, error) {
	switch {
	case strings.TrimSpace(handle) == "":
		return "", fmt.Errorf("session handle is required")
	case strings.ContainsAny(handle, ".*> "):
		return "", ErrUnsafeHandle
	}
	return recordPrefix + handle, nil
}

func userPrefix(userID string) string {
	return "u." + base64.RawURLEncoding.EncodeToString([]byte(userID)) + "."
}

func indexKey(userID, handle string) string {
	return userPrefix(userID) + handle
}

func toStored(record domain.SessionRecord) storedRecord {
	return storedRecord{
		UserID:           record.UserID,
		UserDataInJWT:    record.UserDataInJWT,
		SessionData:      record.SessionData,
		RefreshTokenHash: record.RefreshTokenHash,
		AntiCsrfToken:    record.AntiCsrfToken,
		CreatedAt:        record.CreatedAt.UTC(),
		ExpiresAt:        record.ExpiresAt.UTC(),
	}
}

func fromStored(handle string, stored storedRecord) domain.SessionRecord {
	return domain.SessionRecord{
		Handle:           handle,
		UserID:           stored.UserID,
		UserDataInJWT:    stored.UserDataInJWT,
		SessionData:      stored.SessionData,
		RefreshTokenHash: stored.RefreshTokenHash,
		AntiCsrfToken:    stored.AntiCsrfToken,
		CreatedAt:        stored.CreatedAt,
		ExpiresAt:        stored.ExpiresAt,
	}
}

var _ port.SessionStore = (*SessionStore)(nil)

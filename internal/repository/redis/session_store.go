package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/repository"
)

const defaultSessionPrefix = "session:record"

const (
	fieldUserID      = "user_id"
	fieldUserData    = "user_data"
	fieldSessionData = "session_data"
	fieldRefreshHash = "refresh_hash"
	fieldAntiCsrf    = "anti_csrf"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
)

// KEYS[1] record, KEYS[2] user index. ARGV[1] handle, ARGV[2] expiry (unix ms), ARGV[3..] field/value pairs.
var createScript = red.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
local fields = {}
for i = 3, #ARGV do
  fields[#fields + 1] = ARGV[i]
end
redis.call('HSET', KEYS[1], unpack(fields))
redis.call('PEXPIREAT', KEYS[1], ARGV[2])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] record. ARGV[1] expected hash, ARGV[2] new hash, ARGV[3] anti-csrf, ARGV[4] expiry (unix ms).
var rotateScript = red.NewScript(`
local current = redis.call('HGET', KEYS[1], 'refresh_hash')
if not current then
  return -1
end
if current ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'refresh_hash', ARGV[2], 'anti_csrf', ARGV[3], 'expires_at', ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[4])
return 1
`)

// KEYS[1] record. ARGV[1] session data.
var updateDataScript = red.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'session_data', ARGV[1])
return 1
`)

// KEYS[1] record, KEYS[2] user index. ARGV[1] user id, ARGV[2] handle.
var deleteScript = red.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'user_id')
if not uid or uid ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// SessionStore implements port.SessionStore on Redis hashes with a per-user handle index.
// Refresh rotation runs as a Lua script so the compare-and-swap is atomic on the server.
type SessionStore struct {
	client *red.Client
	prefix string
}

// NewSessionStore constructs a Redis-backed session store.
func NewSessionStore(client *red.Client, keyPrefix string) *SessionStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Create stores a new record with a server-side expiry.
func (s *SessionStore) Create(ctx context.Context, record domain.SessionRecord) error {
	key := s.key(record.Handle)
	if key == "" {
		return fmt.Errorf("session handle is required")
	}

	args := []any{
		record.Handle,
		record.ExpiresAt.UnixMilli(),
		fieldUserID, record.UserID,
		fieldUserData, string(jsonOrEmpty(record.UserDataInJWT)),
		fieldSessionData, string(jsonOrEmpty(record.SessionData)),
		fieldRefreshHash, record.RefreshTokenHash,
		fieldAntiCsrf, record.AntiCsrfToken,
		fieldCreatedAt, record.CreatedAt.UnixMilli(),
		fieldExpiresAt, record.ExpiresAt.UnixMilli(),
	}

	created, err := createScript.Run(ctx, s.client, []string{key, s.userKey(record.UserID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if created == 0 {
		return repository.ErrAlreadyExists
	}
	return nil
}

// Get loads the record for handle.
func (s *SessionStore) Get(ctx context.Context, handle string) (*domain.SessionRecord, error) {
	key := s.key(handle)
	if key == "" {
		return nil, repository.ErrNotFound
	}

	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	record, err := decodeRecord(handle, values)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateSessionData replaces the session data blob. Last write wins.
func (s *SessionStore) UpdateSessionData(ctx context.Context, handle string, data json.RawMessage) error {
	key := s.key(handle)
	if key == "" {
		return repository.ErrNotFound
	}

	updated, err := updateDataScript.Run(ctx, s.client, []string{key}, string(jsonOrEmpty(data))).Int()
	if err != nil {
		return fmt.Errorf("redis update session data: %w", err)
	}
	if updated == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RotateRefreshToken swaps the lineage marker when the expected hash still matches.
func (s *SessionStore) RotateRefreshToken(ctx context.Context, rotation domain.RefreshRotation) error {
	key := s.key(rotation.Handle)
	if key == "" {
		return repository.ErrNotFound
	}

	result, err := rotateScript.Run(ctx, s.client, []string{key},
		rotation.ExpectedHash,
		rotation.NewHash,
		rotation.AntiCsrfToken,
		rotation.ExpiresAt.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("redis rotate refresh token: %w", err)
	}

	switch result {
	case 1:
		return nil
	case 0:
		return repository.ErrRefreshTokenMismatch
	default:
		return repository.ErrNotFound
	}
}

// Delete removes the record and its index entry.
func (s *SessionStore) Delete(ctx context.Context, handle string) (bool, error) {
	key := s.key(handle)
	if key == "" {
		return false, nil
	}

	// The index key must be declared up front, so the owner is read first.
	userID, err := s.client.HGet(ctx, key, fieldUserID).Result()
	if errors.Is(err, red.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis read session owner: %w", err)
	}

	deleted, err := deleteScript.Run(ctx, s.client, []string{key, s.userKey(userID)}, userID, handle).Int()
	if err != nil {
		return false, fmt.Errorf("redis delete session: %w", err)
	}
	return deleted == 1, nil
}

// DeleteAllForUser removes every record listed in the user's index.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)
	handles, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list user sessions: %w", err)
	}
	if len(handles) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(handles))
	members := make([]any, 0, len(handles))
	for _, handle := range handles {
		keys = append(keys, s.key(handle))
		members = append(members, handle)
	}

	var deleted *red.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis delete user sessions: %w", err)
	}
	return int(deleted.Val()), nil
}

// ListHandlesForUser returns live handles and prunes index entries whose records have expired.
func (s *SessionStore) ListHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	userKey := s.userKey(userID)
	handles, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list user sessions: %w", err)
	}

	exists := make([]*red.IntCmd, len(handles))
	_, err = s.client.Pipelined(ctx, func(pipe red.Pipeliner) error {
		for i, handle := range handles {
			exists[i] = pipe.Exists(ctx, s.key(handle))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis check user sessions: %w", err)
	}

	live := make([]string, 0, len(handles))
	stale := make([]any, 0)
	for i, handle := range handles {
		if exists[i].Val() == 1 {
			live = append(live, handle)
			continue
		}
		stale = append(stale, handle)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, userKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune user sessions: %w", err)
		}
	}

	sort.Strings(live)
	return live, nil
}

func (s *SessionStore) key(handle string) string {
	trimmed := strings.TrimSpace(handle)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

func (s *SessionStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

func decodeRecord(handle string, values map[string]string) (*domain.SessionRecord, error) {
	createdAt, err := parseMillis(values[fieldCreatedAt])
	if err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	expiresAt, err := parseMillis(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode expires_at: %w", err)
	}

	return &domain.SessionRecord{
		Handle:           handle,
		UserID:           values[fieldUserID],
		UserDataInJWT:    json.RawMessage(values[fieldUserData]),
		SessionData:      json.RawMessage(values[fieldSessionData]),
		RefreshTokenHash: values[fieldRefreshHash],
		AntiCsrfToken:    values[fieldAntiCsrf],
		CreatedAt:        createdAt,
		ExpiresAt:        expiresAt,
	}, nil
}

func parseMillis(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

var _ port.SessionStore = (*SessionStore)(nil)

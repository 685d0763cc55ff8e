package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/core/port"
	"github.com/arklim/session-service/internal/repository"
)

const (
	sessionsTable     = "session.sessions"
	uniqueViolation   = "23505"
	defaultJSONObject = "{}"
)

var sessionColumns = []string{
	"handle",
	"user_id",
	"user_data_in_jwt",
	"session_data",
	"refresh_token_hash",
	"anti_csrf_token",
	"created_at",
	"expires_at",
}

// SessionStore implements port.SessionStore backed by PostgreSQL.
type SessionStore struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewSessionStore constructs a store backed by any executor that satisfies pgExecutor.
func NewSessionStore(exec pgExecutor) *SessionStore {
	return &SessionStore{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithTx returns a store instance that executes statements within the supplied transaction.
func (s *SessionStore) WithTx(tx pgx.Tx) *SessionStore {
	if tx == nil {
		return s
	}
	return &SessionStore{exec: tx, builder: s.builder, now: s.now}
}

// WithClock overrides the clock used to filter expired rows.
func (s *SessionStore) WithClock(clock func() time.Time) *SessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Create inserts a session record.
func (s *SessionStore) Create(ctx context.Context, record domain.SessionRecord) error {
	if strings.TrimSpace(record.Handle) == "" {
		return fmt.Errorf("session handle is required")
	}

	sqlStmt, args, err := s.builder.Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(
			record.Handle,
			record.UserID,
			jsonOrEmpty(record.UserDataInJWT),
			jsonOrEmpty(record.SessionData),
			record.RefreshTokenHash,
			record.AntiCsrfToken,
			record.CreatedAt.UTC(),
			record.ExpiresAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, sqlStmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get returns the live record for handle.
func (s *SessionStore) Get(ctx context.Context, handle string) (*domain.SessionRecord, error) {
	sqlStmt, args, err := s.builder.Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"handle": handle}).
		Where(squirrel.Gt{"expires_at": s.now()}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	var (
		record      domain.SessionRecord
		userData    []byte
		sessionData []byte
	)
	err = s.exec.QueryRow(ctx, sqlStmt, args...).Scan(
		&record.Handle,
		&record.UserID,
		&userData,
		&sessionData,
		&record.RefreshTokenHash,
		&record.AntiCsrfToken,
		&record.CreatedAt,
		&record.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}

	record.UserDataInJWT = json.RawMessage(userData)
	record.SessionData = json.RawMessage(sessionData)
	return &record, nil
}

// UpdateSessionData replaces the session data blob. Last write wins.
func (s *SessionStore) UpdateSessionData(ctx context.Context, handle string, data json.RawMessage) error {
	sqlStmt, args, err := s.builder.Update(sessionsTable).
		Set("session_data", jsonOrEmpty(data)).
		Where(squirrel.Eq{"handle": handle}).
		Where(squirrel.Gt{"expires_at": s.now()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update session data sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return fmt.Errorf("update session data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RotateRefreshToken swaps the lineage marker in a single conditional UPDATE.
func (s *SessionStore) RotateRefreshToken(ctx context.Context, rotation domain.RefreshRotation) error {
	now := s.now()
	sqlStmt, args, err := s.builder.Update(sessionsTable).
		Set("refresh_token_hash", rotation.NewHash).
		Set("anti_csrf_token", rotation.AntiCsrfToken).
		Set("expires_at", rotation.ExpiresAt.UTC()).
		Where(squirrel.Eq{"handle": rotation.Handle}).
		Where(squirrel.Eq{"refresh_token_hash": rotation.ExpectedHash}).
		Where(squirrel.Gt{"expires_at": now}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rotate refresh token sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// The swap did not apply; tell a lost race apart from a missing session.
	exists, err := s.exists(ctx, rotation.Handle, now)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrRefreshTokenMismatch
}

// Delete removes the record and reports whether a live one existed.
func (s *SessionStore) Delete(ctx context.Context, handle string) (bool, error) {
	sqlStmt, args, err := s.builder.Delete(sessionsTable).
		Where(squirrel.Eq{"handle": handle}).
		Suffix("RETURNING expires_at").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete session sql: %w", err)
	}

	var expiresAt time.Time
	if err := s.exec.QueryRow(ctx, sqlStmt, args...).Scan(&expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("delete session: %w", err)
	}

	return expiresAt.After(s.now()), nil
}

// DeleteAllForUser removes every live record owned by userID.
func (s *SessionStore) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	sqlStmt, args, err := s.builder.Delete(sessionsTable).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Gt{"expires_at": s.now()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete user sessions sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListHandlesForUser returns the live handles owned by userID.
func (s *SessionStore) ListHandlesForUser(ctx context.Context, userID string) ([]string, error) {
	sqlStmt, args, err := s.builder.Select("handle").
		From(sessionsTable).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Gt{"expires_at": s.now()}).
		OrderBy("handle").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list session handles sql: %w", err)
	}

	rows, err := s.exec.Query(ctx, sqlStmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list session handles: %w", err)
	}
	defer rows.Close()

	handles := make([]string, 0)
	for rows.Next() {
		var handle string
		if err := rows.Scan(&handle); err != nil {
			return nil, fmt.Errorf("scan session handle: %w", err)
		}
		handles = append(handles, handle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session handles: %w", err)
	}
	return handles, nil
}

// PurgeExpired deletes rows whose refresh window has closed.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int, error) {
	sqlStmt, args, err := s.builder.Delete(sessionsTable).
		Where(squirrel.LtOrEq{"expires_at": s.now()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge sessions sql: %w", err)
	}

	tag, err := s.exec.Exec(ctx, sqlStmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *SessionStore) exists(ctx context.Context, handle string, now time.Time) (bool, error) {
	sqlStmt, args, err := s.builder.Select("1").
		From(sessionsTable).
		Where(squirrel.Eq{"handle": handle}).
		Where(squirrel.Gt{"expires_at": now}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build session exists sql: %w", err)
	}

	var one int
	if err := s.exec.QueryRow(ctx, sqlStmt, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check session exists: %w", err)
	}
	return true, nil
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(defaultJSONObject)
	}
	return []byte(raw)
}

var _ port.SessionStore = (*SessionStore)(nil)

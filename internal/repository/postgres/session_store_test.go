package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/repository"
)

var fixedNow = time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*SessionStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	store := NewSessionStore(mock).WithClock(func() time.Time { return fixedNow })
	return store, mock
}

func TestSessionStore_Create(t *testing.T) {
	store, mock := newMockStore(t)

	record := domain.SessionRecord{
		Handle:           "01JA0000000000000000000000",
		UserID:           "u1",
		UserDataInJWT:    json.RawMessage(`{"role":"admin"}`),
		RefreshTokenHash: "hash-1",
		AntiCsrfToken:    "csrf-1",
		CreatedAt:        fixedNow,
		ExpiresAt:        fixedNow.Add(24 * time.Hour),
	}

	mock.ExpectExec(`INSERT INTO session\.sessions`).
		WithArgs(
			record.Handle,
			record.UserID,
			[]byte(`{"role":"admin"}`),
			[]byte(`{}`),
			record.RefreshTokenHash,
			record.AntiCsrfToken,
			record.CreatedAt,
			record.ExpiresAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionStore_CreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO session\.sessions`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.Create(context.Background(), domain.SessionRecord{Handle: "h1", UserID: "u1"})
	if !errors.Is(err, repository.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSessionStore_Get(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows(sessionColumns).AddRow(
		"h1", "u1", []byte(`{"role":"admin"}`), []byte(`{"cart":[]}`), "hash-1", "csrf-1", fixedNow, fixedNow.Add(time.Hour),
	)
	mock.ExpectQuery(`SELECT .* FROM session\.sessions WHERE handle = \$1 AND expires_at > \$2`).
		WithArgs("h1", fixedNow).
		WillReturnRows(rows)

	record, err := store.Get(context.Background(), "h1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record.UserID != "u1" || string(record.SessionData) != `{"cart":[]}` || record.AntiCsrfToken != "csrf-1" {
		t.Fatalf("unexpected record: %+v", record)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionStore_GetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM session\.sessions`).
		WithArgs("missing", fixedNow).
		WillReturnError(pgx.ErrNoRows)

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_RotateRefreshToken(t *testing.T) {
	rotation := domain.RefreshRotation{
		Handle:        "h1",
		ExpectedHash:  "hash-1",
		NewHash:       "hash-2",
		AntiCsrfToken: "csrf-2",
		ExpiresAt:     fixedNow.Add(48 * time.Hour),
	}

	t.Run("swap applied", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE session\.sessions SET refresh_token_hash = \$1, anti_csrf_token = \$2, expires_at = \$3 WHERE handle = \$4 AND refresh_token_hash = \$5 AND expires_at > \$6`).
			WithArgs("hash-2", "csrf-2", rotation.ExpiresAt, "h1", "hash-1", fixedNow).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		if err := store.RotateRefreshToken(context.Background(), rotation); err != nil {
			t.Fatalf("RotateRefreshToken returned error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	t.Run("lost race", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE session\.sessions`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT 1 FROM session\.sessions`).
			WithArgs("h1", fixedNow).
			WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

		err := store.RotateRefreshToken(context.Background(), rotation)
		if !errors.Is(err, repository.ErrRefreshTokenMismatch) {
			t.Fatalf("expected ErrRefreshTokenMismatch, got %v", err)
		}
	})

	t.Run("session gone", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE session\.sessions`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT 1 FROM session\.sessions`).
			WithArgs("h1", fixedNow).
			WillReturnError(pgx.ErrNoRows)

		err := store.RotateRefreshToken(context.Background(), rotation)
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSessionStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`DELETE FROM session\.sessions WHERE handle = \$1 RETURNING expires_at`).
		WithArgs("h1").
		WillReturnRows(pgxmock.NewRows([]string{"expires_at"}).AddRow(fixedNow.Add(time.Hour)))
	mock.ExpectQuery(`DELETE FROM session\.sessions`).
		WithArgs("h1").
		WillReturnError(pgx.ErrNoRows)

	deleted, err := store.Delete(context.Background(), "h1")
	if err != nil || !deleted {
		t.Fatalf("expected first delete to report true, got %v, %v", deleted, err)
	}
	deleted, err = store.Delete(context.Background(), "h1")
	if err != nil || deleted {
		t.Fatalf("expected second delete to report false, got %v, %v", deleted, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionStore_UserScopedQueries(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT handle FROM session\.sessions WHERE user_id = \$1 AND expires_at > \$2 ORDER BY handle`).
		WithArgs("u1", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"handle"}).AddRow("h1").AddRow("h2"))
	mock.ExpectExec(`DELETE FROM session\.sessions WHERE user_id = \$1 AND expires_at > \$2`).
		WithArgs("u1", fixedNow).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	handles, err := store.ListHandlesForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListHandlesForUser returned error: %v", err)
	}
	if len(handles) != 2 || handles[0] != "h1" {
		t.Fatalf("unexpected handles: %v", handles)
	}

	count, err := store.DeleteAllForUser(context.Background(), "u1")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 deletions, got %d, %v", count, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionStore_UpdateSessionDataMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE session\.sessions SET session_data = \$1 WHERE handle = \$2 AND expires_at > \$3`).
		WithArgs([]byte(`{"cart":[1]}`), "h1", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateSessionData(context.Background(), "h1", json.RawMessage(`{"cart":[1]}`))
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS session`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := EnsureSchema(context.Background(), mock); err != nil {
		t.Fatalf("EnsureSchema returned error: %v", err)
	}
}

package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed schema.sql
var schemaSQL string

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureSchema creates the session schema and tables when they are missing.
func EnsureSchema(ctx context.Context, exec pgExecutor) error {
	if _, err := exec.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply session schema: %w", err)
	}
	return nil
}

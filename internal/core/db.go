package core

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared
// query helpers that work inside or outside a transaction.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxRowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx (for Query).
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

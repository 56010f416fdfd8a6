// Package db provides shared database helpers for bulk copy and upsert
// operations against PostgreSQL.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of pgxpool.Pool the helpers and store need. It is
// satisfied by *pgxpool.Pool, pgx.Tx, and pgxmock pools, which lets bulk
// loads run inside an already-open transaction and lets tests substitute
// a mock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Beginner can open a transaction. *pgxpool.Pool and pgxmock pools qualify.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Package pgx wraps jackc/pgx for the CRUD layer: named pools per
// environment and request-scoped transactional sessions.
package pgx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the statement surface shared by connections, pools and
// transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is anything that can run statements and start a transaction, e.g.
// *pgx.Conn or *pgxpool.Pool.
type Conn interface {
	Querier
	// Begin starts a transaction. The context only affects the begin command;
	// there is no auto-rollback on context cancellation.
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxStarter begins transactions. *pgxpool.Pool satisfies it; the returned
// transaction releases its pooled connection on commit or rollback.
type TxStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

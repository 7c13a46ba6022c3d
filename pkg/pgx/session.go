package pgx

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Session is a request-scoped transaction. Operations commit it explicitly;
// End rolls back whatever was not committed and returns the connection to
// its pool.
type Session struct {
	tx   pgx.Tx
	done atomic.Bool
}

// BeginSession starts a transaction on db.
func BeginSession(ctx context.Context, db TxStarter) (*Session, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{tx: tx}, nil
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.tx.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.tx.QueryRow(ctx, sql, args...)
}

// Commit commits the transaction. A failed commit leaves the session open so
// the caller can roll back.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return err
	}
	s.done.Store(true)
	return nil
}

// Rollback aborts the transaction. Rolling back a finished session is a no-op.
func (s *Session) Rollback(ctx context.Context) error {
	if s.done.Swap(true) {
		return nil
	}
	err := s.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// Done reports whether the session was committed or rolled back.
func (s *Session) Done() bool {
	return s.done.Load()
}

// End rolls back an unfinished session. It is safe to defer unconditionally.
func (s *Session) End(ctx context.Context) error {
	return s.Rollback(context.WithoutCancel(ctx))
}

// Package pgtest connects tests to the database named by TEST_DATABASE and
// skips them when it is unset.
package pgtest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// EnvVar holds the connection string of the integration database.
const EnvVar = "TEST_DATABASE"

// ConnString returns TEST_DATABASE or skips the test.
func ConnString(t testing.TB) string {
	t.Helper()
	s := os.Getenv(EnvVar)
	if s == "" {
		t.Skipf("%s not set", EnvVar)
	}
	return s
}

// ParseConfig returns a pool config that logs server notices to the test.
func ParseConfig(t testing.TB) *pgxpool.Config {
	t.Helper()
	config, err := pgxpool.ParseConfig(ConnString(t))
	require.NoError(t, err)

	config.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		t.Logf("PostgreSQL %s: %s", n.Severity, n.Message)
	}
	return config
}

// Pool opens a pool closed at test cleanup.
func Pool(ctx context.Context, t testing.TB) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.NewWithConfig(ctx, ParseConfig(t))
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)
	return pool
}

// Exec runs statements, e.g. fixture DDL, on a short-lived connection.
func Exec(ctx context.Context, t testing.TB, statements ...string) {
	t.Helper()
	conn, err := pgx.Connect(ctx, ConnString(t))
	require.NoError(t, err)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, conn.Close(closeCtx))
	}()

	for _, stmt := range statements {
		_, err := conn.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

package pgx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edgeflare/pgcrud/internal/testutil/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolManagerWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	pm := NewPoolManager(nil)
	assert.Empty(t, pm.List())

	_, err := pm.Get("dev")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	assert.ErrorIs(t, pm.Remove("dev"), ErrPoolNotFound)

	err = pm.Add(ctx, Pool{Name: "dev"})
	require.Error(t, err)

	err = pm.Add(ctx, Pool{Name: "dev", ConnString: "postgres://%zz"})
	require.Error(t, err)
	assert.Empty(t, pm.List())
}

func TestPoolManager(t *testing.T) {
	ctx := context.Background()
	cfg := pgtest.ParseConfig(t)
	connString := pgtest.ConnString(t)

	t.Run("Add", func(t *testing.T) {
		pm := NewPoolManager(zaptest.NewLogger(t))
		t.Cleanup(pm.Close)

		require.NoError(t, pm.Add(ctx, Pool{Name: "prod", ConnString: connString}))
		require.NoError(t, pm.Add(ctx, Pool{Name: "dev", Config: cfg, ConnectRetries: 2}))
		assert.Equal(t, []string{"dev", "prod"}, pm.List())

		err := pm.Add(ctx, Pool{Name: "prod", ConnString: connString})
		assert.ErrorIs(t, err, ErrPoolAlreadyExists)
	})

	t.Run("Get and Info", func(t *testing.T) {
		pm := NewPoolManager(nil)
		t.Cleanup(pm.Close)
		require.NoError(t, pm.Add(ctx, Pool{Name: "dev", ConnString: connString, ConnectTimeout: 5 * time.Second}))

		pool, err := pm.Get("dev")
		require.NoError(t, err)
		require.NoError(t, pool.Ping(ctx))

		info := InfoOf(pool)
		assert.NotEmpty(t, info.Host)
		assert.NotEmpty(t, info.Database)
	})

	t.Run("Remove", func(t *testing.T) {
		pm := NewPoolManager(nil)
		t.Cleanup(pm.Close)
		require.NoError(t, pm.Add(ctx, Pool{Name: "dev", ConnString: connString}))
		require.NoError(t, pm.Remove("dev"))
		assert.Empty(t, pm.List())
	})

	t.Run("Session commit", func(t *testing.T) {
		pm := NewPoolManager(nil)
		t.Cleanup(pm.Close)
		require.NoError(t, pm.Add(ctx, Pool{Name: "dev", ConnString: connString}))
		pool, err := pm.Get("dev")
		require.NoError(t, err)

		s, err := BeginSession(ctx, pool)
		require.NoError(t, err)
		defer s.End(ctx)

		var one int
		require.NoError(t, s.QueryRow(ctx, "SELECT 1").Scan(&one))
		assert.Equal(t, 1, one)
		require.NoError(t, s.Commit(ctx))
	})

	t.Run("Concurrent access", func(t *testing.T) {
		pm := NewPoolManager(nil)
		t.Cleanup(pm.Close)
		require.NoError(t, pm.Add(ctx, Pool{Name: "dev", ConnString: connString}))

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 25 {
					if pool, err := pm.Get("dev"); err == nil {
						_ = pool.Ping(ctx)
					}
					_ = pm.List()
				}
			}()
		}
		wg.Wait()
	})
}

package pgx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolManager holds one named *pgxpool.Pool per environment.
type PoolManager struct {
	pools  map[string]*pgxpool.Pool
	logger *zap.Logger
	mu     sync.RWMutex
}

// Pool is the connection configuration of one environment.
type Pool struct {
	Config     *pgxpool.Config // takes precedence over ConnString
	Name       string
	ConnString string

	// ConnectRetries is how many times a failed initial ping is retried with
	// exponential backoff. Zero means a single attempt.
	ConnectRetries uint64
	// ConnectTimeout bounds the whole connect-and-ping sequence.
	ConnectTimeout time.Duration
}

var (
	ErrPoolNotFound      = errors.New("connection pool not found")
	ErrPoolAlreadyExists = errors.New("connection pool already exists")
)

// NewPoolManager returns an empty manager. A nil logger is replaced by a no-op.
func NewPoolManager(logger *zap.Logger) *PoolManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolManager{pools: make(map[string]*pgxpool.Pool), logger: logger}
}

// Add connects and registers a pool under cfg.Name.
func (m *PoolManager) Add(ctx context.Context, cfg Pool) error {
	m.mu.RLock()
	_, exists := m.pools[cfg.Name]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("pgx: %w: %s", ErrPoolAlreadyExists, cfg.Name)
	}

	pool, err := m.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("pgx: %s: %w", cfg.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[cfg.Name]; ok {
		pool.Close()
		return fmt.Errorf("pgx: %w: %s", ErrPoolAlreadyExists, cfg.Name)
	}
	m.pools[cfg.Name] = pool
	return nil
}

// Get returns the pool registered under name.
func (m *PoolManager) Get(name string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	pool, ok := m.pools[name]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("pgx: %w: %s", ErrPoolNotFound, name)
	}
	return pool, nil
}

// Remove closes and forgets a pool.
func (m *PoolManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("pgx: %w: %s", ErrPoolNotFound, name)
	}
	pool.Close()
	delete(m.pools, name)
	return nil
}

// Close closes every pool.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, p := range m.pools {
		p.Close()
		m.logger.Debug("closed pool", zap.String("env", name))
	}
	m.pools = make(map[string]*pgxpool.Pool)
}

// List returns the sorted pool names.
func (m *PoolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.pools))
}

// Info describes where a pool connects.
type Info struct {
	Host     string            `json:"host"`
	Database string            `json:"database"`
	Query    map[string]string `json:"query"`
}

// InfoOf returns the host, database and runtime parameters (e.g. the
// search_path options) of a pool.
func InfoOf(pool *pgxpool.Pool) Info {
	cc := pool.Config().ConnConfig
	return Info{
		Host:     cc.Host,
		Database: cc.Database,
		Query:    maps.Clone(cc.RuntimeParams),
	}
}

func (m *PoolManager) connect(ctx context.Context, cfg Pool) (*pgxpool.Pool, error) {
	poolConfig := cfg.Config
	if poolConfig == nil {
		if cfg.ConnString == "" {
			return nil, errors.New("either Config or ConnString must be provided")
		}
		var err error
		poolConfig, err = pgxpool.ParseConfig(cfg.ConnString)
		if err != nil {
			return nil, fmt.Errorf("parse connection string: %w", err)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries), pingCtx)
	attempt := 0
	ping := func() error {
		attempt++
		err := pool.Ping(pingCtx)
		if err != nil {
			m.logger.Warn("ping failed",
				zap.String("env", cfg.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(ping, b); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping connection: %w", err)
	}

	m.logger.Info("connected",
		zap.String("env", cfg.Name),
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database))
	return pool, nil
}

package pgcrud

import (
	"context"
	"fmt"

	"github.com/edgeflare/pgcrud/pkg/config"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/registry"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// connect opens the pool of env and builds its table registry, either from
// the configured definitions or from the database catalog.
func connect(ctx context.Context, pools *pg.PoolManager, env config.EnvironmentConfig, logger *zap.Logger) (*pgxpool.Pool, *registry.Registry, error) {
	connString, schema, err := env.Connection()
	if err != nil {
		return nil, nil, fmt.Errorf("environment %s: %w", env.Name, err)
	}

	if err := pools.Add(ctx, pg.Pool{
		Name:           env.Name,
		ConnString:     connString,
		ConnectRetries: env.ConnectRetries,
		ConnectTimeout: env.ConnectTimeout,
	}); err != nil {
		return nil, nil, err
	}
	pool, err := pools.Get(env.Name)
	if err != nil {
		return nil, nil, err
	}

	if defs := cfg.Registry.Definitions; len(defs) > 0 {
		reg, err := registry.New(defs...)
		if err != nil {
			return nil, nil, fmt.Errorf("environment %s: %w", env.Name, err)
		}
		return pool, reg, nil
	}

	tables, skipped, err := registry.LoadCatalog(ctx, pool, cfg.Registry.CatalogOptions(schema))
	if err != nil {
		return nil, nil, fmt.Errorf("environment %s: load catalog: %w", env.Name, err)
	}
	for _, name := range skipped {
		logger.Warn("skipping table without primary key", zap.String("env", env.Name), zap.String("table", name))
	}
	reg, err := registry.New(tables...)
	if err != nil {
		return nil, nil, fmt.Errorf("environment %s: %w", env.Name, err)
	}
	return pool, reg, nil
}
